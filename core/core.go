package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/stephnangue/belfry/logger"
	"github.com/stephnangue/belfry/physical"
)

// CoreConfig carries the dependencies a Core needs.
type CoreConfig struct {
	Physical physical.Storage

	// RingCommand is the external command that drives the bell. Ignored
	// when Runner is set.
	RingCommand string

	// RingGrace is how long past the requested duration the ring
	// command may run before it is killed.
	RingGrace time.Duration

	// Runner overrides the command runner, mainly for tests.
	Runner Runner

	// Clock defaults to the system clock.
	Clock Clock

	Logger *log.GatedLogger
}

// Core owns the resource lifecycle. Admission is a compare-and-swap on
// the stored entry, so exactly one concurrent activation per resource
// wins regardless of backend.
type Core struct {
	store  *resourceStore
	ringer *Ringer
	clock  Clock
	logger *log.GatedLogger
}

func NewCore(conf *CoreConfig) (*Core, error) {
	if conf.Physical == nil {
		return nil, fmt.Errorf("core requires a physical backend")
	}
	if conf.Logger == nil {
		return nil, fmt.Errorf("core requires a logger")
	}

	clock := conf.Clock
	if clock == nil {
		clock = SystemClock()
	}

	runner := conf.Runner
	if runner == nil {
		if conf.RingCommand == "" {
			return nil, fmt.Errorf("core requires a ring command")
		}
		runner = &CommandRunner{
			Command: conf.RingCommand,
			Grace:   conf.RingGrace,
			Logger:  conf.Logger.WithSubsystem("ringer"),
		}
	}

	store := newResourceStore(conf.Physical)
	c := &Core{
		store:  store,
		ringer: newRinger(runner, store, clock, conf.Logger.WithSubsystem("ringer")),
		clock:  clock,
		logger: conf.Logger,
	}
	return c, nil
}

// CreateRequest describes a resource to mint.
type CreateRequest struct {
	Milliseconds int64
	NotBefore    *time.Time
	NotAfter     *time.Time
	Sticky       bool
	API          bool
}

// CreateResource mints a new UNUSED resource with a random id.
func (c *Core) CreateResource(ctx context.Context, req *CreateRequest) (*Resource, error) {
	now := c.clock.Now()
	r := &Resource{
		ID:           uuid.NewString(),
		Milliseconds: req.Milliseconds,
		NotBefore:    req.NotBefore,
		NotAfter:     req.NotAfter,
		Sticky:       req.Sticky,
		API:          req.API,
		Status:       StatusUnused,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to store resource %s: %w", r.ID, err)
	}

	c.logger.Info("created resource",
		log.String("resource_id", r.ID),
		log.Int64("milliseconds", r.Milliseconds),
		log.Bool("sticky", r.Sticky),
		log.Bool("api", r.API))
	return r, nil
}

// GetResource returns the resource or ErrUnknownResource.
func (c *Core) GetResource(ctx context.Context, id string) (*Resource, error) {
	r, _, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrUnknownResource
	}
	return r, nil
}

// ListResources returns every stored resource in id order.
func (c *Core) ListResources(ctx context.Context) ([]*Resource, error) {
	ids, err := c.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Resource, 0, len(ids))
	for _, id := range ids {
		r, _, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Activate admits a ring for the resource. On success the ring has been
// accepted and queued; it runs asynchronously. Exactly one of any set
// of concurrent activations for the same resource is admitted.
func (c *Core) Activate(ctx context.Context, id string) error {
	r, raw, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrUnknownResource
	}

	now := c.clock.Now()
	switch {
	case r.IsUsing():
		return ErrAlreadyInProgress
	case r.IsUsed():
		return &NotActivatableError{Reason: ReasonAlreadyUsed}
	case r.IsBeforePeriod(now):
		return &NotActivatableError{Reason: ReasonBeforePeriod}
	case r.IsAfterPeriod(now):
		return &NotActivatableError{Reason: ReasonAfterPeriod}
	}

	admitted := r.Clone()
	admitted.Status = StatusUsing
	admitted.UpdatedAt = now
	if err := c.store.Swap(ctx, admitted, raw); err != nil {
		if errors.Is(err, physical.ErrCASMismatch) {
			return ErrAlreadyInProgress
		}
		return fmt.Errorf("failed to admit resource %s: %w", id, err)
	}

	c.logger.Info("admitted activation",
		log.String("resource_id", id),
		log.Int64("milliseconds", r.Milliseconds))
	c.ringer.Submit(id, r.Milliseconds)
	return nil
}

// DeleteResource removes the resource unless a ring is in flight.
func (c *Core) DeleteResource(ctx context.Context, id string) error {
	r, raw, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrUnknownResource
	}
	if r.IsUsing() {
		return ErrResourceInUse
	}
	if err := c.store.DeleteIfMatch(ctx, id, raw); err != nil {
		if errors.Is(err, physical.ErrCASMismatch) {
			// Lost the race to an admission, treat it as in use.
			return ErrResourceInUse
		}
		return fmt.Errorf("failed to delete resource %s: %w", id, err)
	}

	c.logger.Info("deleted resource", log.String("resource_id", id))
	return nil
}

// Shutdown waits for in-flight rings to run and finalize.
func (c *Core) Shutdown() {
	c.logger.Info("draining in-flight rings")
	c.ringer.Drain()
}
