package core

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	metrics "github.com/hashicorp/go-metrics"
	log "github.com/stephnangue/belfry/logger"
	"golang.org/x/sync/semaphore"
)

// Outcome classifies a completed ring attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	}
	return "unknown"
}

// Runner drives the physical bell for a given duration and reports how
// the attempt ended.
type Runner interface {
	Run(ctx context.Context, milliseconds int64) Outcome
}

// CommandRunner rings the bell by executing an external command with
// the duration in milliseconds as its single argument. The command is
// given the requested duration plus a grace period to exit before it is
// killed.
type CommandRunner struct {
	Command string
	Grace   time.Duration
	Logger  *log.GatedLogger
}

func (c *CommandRunner) Run(ctx context.Context, milliseconds int64) Outcome {
	timeout := time.Duration(milliseconds)*time.Millisecond + c.Grace
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command, strconv.FormatInt(milliseconds, 10))
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.Logger.Error("ring command exceeded its deadline",
			log.String("command", c.Command),
			log.Int64("milliseconds", milliseconds),
			log.Duration("timeout", timeout))
		return OutcomeTimeout
	}
	if err != nil {
		c.Logger.Error("ring command failed",
			log.String("command", c.Command),
			log.Int64("milliseconds", milliseconds),
			log.Err(err))
		return OutcomeFailure
	}
	return OutcomeSuccess
}

const (
	// failedCountAlertThreshold is the number of accumulated failures
	// after which a resource is called out in the logs.
	failedCountAlertThreshold = 3

	// finalizeMaxElapsed bounds the retry loop that records a ring
	// outcome back into storage.
	finalizeMaxElapsed = 30 * time.Second
)

// Ringer serializes admitted activations onto the single physical bell,
// runs them, and finalizes the resource state afterwards. Activations
// that lose the serialization race wait their turn; they never ring
// concurrently.
type Ringer struct {
	gate   *semaphore.Weighted
	runner Runner
	store  *resourceStore
	clock  Clock
	logger *log.GatedLogger
	wg     sync.WaitGroup
}

func newRinger(runner Runner, store *resourceStore, clock Clock, logger *log.GatedLogger) *Ringer {
	return &Ringer{
		gate:   semaphore.NewWeighted(1),
		runner: runner,
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Submit queues an admitted activation. The resource must already be in
// the USING state; the ringer owns it until finalization.
func (r *Ringer) Submit(id string, milliseconds int64) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(id, milliseconds)
	}()
}

// Drain blocks until every submitted activation has run and finalized.
func (r *Ringer) Drain() {
	r.wg.Wait()
}

func (r *Ringer) process(id string, milliseconds int64) {
	// An admitted activation must run to completion even during
	// shutdown, so the gate acquire is not cancellable.
	if err := r.gate.Acquire(context.Background(), 1); err != nil {
		return
	}

	r.logger.Info("ringing bell",
		log.String("resource_id", id),
		log.Int64("milliseconds", milliseconds))

	outcome := r.runner.Run(context.Background(), milliseconds)
	r.gate.Release(1)

	metrics.IncrCounter([]string{"belfry", "ring", outcome.String()}, 1)

	r.finalize(id, outcome)
}

// finalize records the ring outcome on the resource. Storage hiccups
// are retried with backoff; a resource left in USING past the retry
// budget is unrecoverable without operator intervention.
func (r *Ringer) finalize(id string, outcome Outcome) {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		res, raw, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if res == nil {
			r.logger.Warn("resource disappeared before finalization",
				log.String("resource_id", id))
			return nil
		}
		if !res.IsUsing() {
			r.logger.Warn("resource is no longer in the using state",
				log.String("resource_id", id),
				log.String("status", string(res.Status)))
			return nil
		}

		if res.Sticky {
			res.Status = StatusUnused
		} else {
			res.Status = StatusUsed
		}
		if outcome != OutcomeSuccess {
			res.FailedCount++
		}
		res.UpdatedAt = r.clock.Now()

		if err := r.store.Swap(ctx, res, raw); err != nil {
			return err
		}

		if res.FailedCount >= failedCountAlertThreshold {
			r.logger.Error("resource has failed repeatedly",
				log.String("resource_id", id),
				log.Int("failed_count", res.FailedCount))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = finalizeMaxElapsed
	if err := backoff.Retry(op, bo); err != nil {
		metrics.IncrCounter([]string{"belfry", "finalize", "unrecoverable"}, 1)
		r.logger.Error("failed to finalize resource, it may be stuck in the using state",
			log.String("resource_id", id),
			log.String("outcome", outcome.String()),
			log.Err(err))
	}
}
