package core

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/stephnangue/belfry/logger"
	"github.com/stephnangue/belfry/physical/inmem"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *log.GatedLogger {
	t.Helper()
	gl, _ := log.NewGatedLogger(log.DefaultConfig(), log.GatedWriterConfig{
		Underlying:   io.Discard,
		InitialState: log.GateOpen,
	})
	return gl
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubRunner reports a fixed outcome and can hold rings open until
// released, so tests can observe the USING state.
type stubRunner struct {
	outcome Outcome
	hold    chan struct{}
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (s *stubRunner) Run(ctx context.Context, milliseconds int64) Outcome {
	s.calls.Add(1)
	cur := s.active.Add(1)
	for {
		max := s.maxSeen.Load()
		if cur <= max || s.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if s.hold != nil {
		<-s.hold
	}
	s.active.Add(-1)
	return s.outcome
}

func testCore(t *testing.T, runner Runner, clock Clock) (*Core, *inmem.InmemStorage) {
	t.Helper()
	logger := testLogger(t)
	storage, err := inmem.NewInmem(nil, logger.Logger)
	require.NoError(t, err)
	c, err := NewCore(&CoreConfig{
		Physical: storage,
		Runner:   runner,
		Clock:    clock,
		Logger:   logger,
	})
	require.NoError(t, err)
	return c, storage.(*inmem.InmemStorage)
}

func waitForStatus(t *testing.T, c *Core, id string, want Status) *Resource {
	t.Helper()
	var got *Resource
	require.Eventually(t, func() bool {
		r, err := c.GetResource(context.Background(), id)
		if err != nil {
			return false
		}
		got = r
		return r.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestCreateResource(t *testing.T) {
	clock := newFakeClock()
	c, _ := testCore(t, &stubRunner{}, clock)
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 1500, Sticky: true})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	require.Equal(t, StatusUnused, r.Status)
	require.True(t, r.Sticky)
	require.Equal(t, clock.Now(), r.CreatedAt)

	got, err := c.GetResource(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.EqualValues(t, 1500, got.Milliseconds)
}

func TestCreateResourceInvalid(t *testing.T) {
	c, _ := testCore(t, &stubRunner{}, newFakeClock())
	ctx := context.Background()

	_, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 0})
	require.ErrorIs(t, err, ErrInvalidParameters)

	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)
	_, err = c.CreateResource(ctx, &CreateRequest{
		Milliseconds: 1000,
		NotBefore:    &now,
		NotAfter:     &earlier,
	})
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestGetResourceUnknown(t *testing.T) {
	c, _ := testCore(t, &stubRunner{}, newFakeClock())
	_, err := c.GetResource(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestListResources(t *testing.T) {
	c, _ := testCore(t, &stubRunner{}, newFakeClock())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 1000})
		require.NoError(t, err)
	}

	list, err := c.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestActivateConsumesResource(t *testing.T) {
	c, _ := testCore(t, &stubRunner{outcome: OutcomeSuccess}, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)

	require.NoError(t, c.Activate(ctx, r.ID))
	got := waitForStatus(t, c, r.ID, StatusUsed)
	require.Equal(t, 0, got.FailedCount)

	err = c.Activate(ctx, r.ID)
	naErr, ok := IsNotActivatable(err)
	require.True(t, ok)
	require.Equal(t, ReasonAlreadyUsed, naErr.Reason)
}

func TestActivateStickyReturnsToUnused(t *testing.T) {
	c, _ := testCore(t, &stubRunner{outcome: OutcomeSuccess}, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100, Sticky: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Activate(ctx, r.ID))
		waitForStatus(t, c, r.ID, StatusUnused)
	}

	got, err := c.GetResource(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.FailedCount)
}

func TestActivateFailureAccumulates(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeFailure}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100, Sticky: true})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		require.NoError(t, c.Activate(ctx, r.ID))
		got := waitForStatus(t, c, r.ID, StatusUnused)
		require.Equal(t, i, got.FailedCount)
	}

	// A later success must not erase the failure history.
	runner.outcome = OutcomeSuccess
	require.NoError(t, c.Activate(ctx, r.ID))
	got := waitForStatus(t, c, r.ID, StatusUnused)
	require.Equal(t, 2, got.FailedCount)
}

func TestActivateFailureNonSticky(t *testing.T) {
	c, _ := testCore(t, &stubRunner{outcome: OutcomeFailure}, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)

	require.NoError(t, c.Activate(ctx, r.ID))
	got := waitForStatus(t, c, r.ID, StatusUsed)
	require.Equal(t, 1, got.FailedCount)
}

func TestActivateWindow(t *testing.T) {
	clock := newFakeClock()
	c, _ := testCore(t, &stubRunner{}, clock)
	ctx := context.Background()

	future := clock.Now().Add(time.Hour)
	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100, NotBefore: &future})
	require.NoError(t, err)

	err = c.Activate(ctx, r.ID)
	naErr, ok := IsNotActivatable(err)
	require.True(t, ok)
	require.Equal(t, ReasonBeforePeriod, naErr.Reason)

	clock.Advance(2 * time.Hour)
	limit := clock.Now().Add(-time.Minute)
	r2, err := c.CreateResource(ctx, &CreateRequest{
		Milliseconds: 100,
		NotBefore:    &future,
		NotAfter:     &limit,
	})
	require.NoError(t, err)

	err = c.Activate(ctx, r2.ID)
	naErr, ok = IsNotActivatable(err)
	require.True(t, ok)
	require.Equal(t, ReasonAfterPeriod, naErr.Reason)
}

func TestActivateUnknown(t *testing.T) {
	c, _ := testCore(t, &stubRunner{}, newFakeClock())
	err := c.Activate(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestActivateWhileInProgress(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess, hold: make(chan struct{})}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100, Sticky: true})
	require.NoError(t, err)

	require.NoError(t, c.Activate(ctx, r.ID))
	waitForStatus(t, c, r.ID, StatusUsing)

	require.ErrorIs(t, c.Activate(ctx, r.ID), ErrAlreadyInProgress)

	close(runner.hold)
	waitForStatus(t, c, r.ID, StatusUnused)
}

func TestActivateConcurrentSingleWinner(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess, hold: make(chan struct{})}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- c.Activate(ctx, r.ID)
		}()
	}

	close(start)
	wg.Wait()
	close(results)
	close(runner.hold)

	var admitted, rejected int
	for err := range results {
		if err == nil {
			admitted++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyInProgress)
		rejected++
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, racers-1, rejected)
	require.EqualValues(t, 1, runner.calls.Load())

	waitForStatus(t, c, r.ID, StatusUsed)
}

func TestDeleteResource(t *testing.T) {
	c, _ := testCore(t, &stubRunner{}, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)

	require.NoError(t, c.DeleteResource(ctx, r.ID))
	_, err = c.GetResource(ctx, r.ID)
	require.ErrorIs(t, err, ErrUnknownResource)

	require.ErrorIs(t, c.DeleteResource(ctx, r.ID), ErrUnknownResource)
}

func TestDeleteResourceInUse(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess, hold: make(chan struct{})}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)

	require.NoError(t, c.Activate(ctx, r.ID))
	waitForStatus(t, c, r.ID, StatusUsing)

	require.ErrorIs(t, c.DeleteResource(ctx, r.ID), ErrResourceInUse)

	close(runner.hold)
	waitForStatus(t, c, r.ID, StatusUsed)
	require.NoError(t, c.DeleteResource(ctx, r.ID))
}

func TestShutdownDrainsRings(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)
	require.NoError(t, c.Activate(ctx, r.ID))

	c.Shutdown()

	got, err := c.GetResource(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusUsed, got.Status)
}
