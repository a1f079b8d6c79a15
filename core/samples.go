package core

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/stephnangue/belfry/logger"
)

// Sample resources with well-known ids, seeded in debug deployments so
// every lifecycle variant can be exercised without minting tokens.
var sampleDefinitions = []struct {
	id     string
	sticky bool
	api    bool
	status Status
	future bool
}{
	{id: "00000000-0000-0000-0000-000000000000"},
	{id: "11111111-1111-1111-1111-111111111111", sticky: true},
	{id: "22222222-2222-2222-2222-222222222222", api: true},
	{id: "33333333-3333-3333-3333-333333333333", sticky: true, api: true},
	{id: "44444444-4444-4444-4444-444444444444", status: StatusUsed},
	{id: "55555555-5555-5555-5555-555555555555", future: true},
}

const sampleMilliseconds = 1000

var sampleNotBefore = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// SampleResources returns fresh copies of the sample set.
func SampleResources(clock Clock) []*Resource {
	now := clock.Now()
	out := make([]*Resource, 0, len(sampleDefinitions))
	for _, def := range sampleDefinitions {
		status := def.status
		if status == "" {
			status = StatusUnused
		}
		r := &Resource{
			ID:           def.id,
			Milliseconds: sampleMilliseconds,
			Sticky:       def.sticky,
			API:          def.api,
			Status:       status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if def.future {
			nb := sampleNotBefore
			r.NotBefore = &nb
		}
		out = append(out, r)
	}
	return out
}

// ResetSamples rewrites every sample resource to its pristine state,
// overwriting whatever state it accumulated. Failures are collected so
// one bad write does not skip the rest of the set.
func (c *Core) ResetSamples(ctx context.Context) ([]*Resource, error) {
	samples := SampleResources(c.clock)

	var merr *multierror.Error
	for _, r := range samples {
		if err := c.store.Put(ctx, r); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	c.logger.Info("reset sample resources", log.Int("count", len(samples)))
	return samples, nil
}
