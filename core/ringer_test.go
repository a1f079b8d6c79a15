package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommandRunner(t *testing.T) {
	logger := testLogger(t)

	t.Run("success", func(t *testing.T) {
		r := &CommandRunner{Command: "true", Grace: time.Second, Logger: logger}
		require.Equal(t, OutcomeSuccess, r.Run(context.Background(), 1))
	})

	t.Run("failure", func(t *testing.T) {
		r := &CommandRunner{Command: "false", Grace: time.Second, Logger: logger}
		require.Equal(t, OutcomeFailure, r.Run(context.Background(), 1))
	})

	t.Run("missing command", func(t *testing.T) {
		r := &CommandRunner{Command: "belfry-no-such-command", Grace: time.Second, Logger: logger}
		require.Equal(t, OutcomeFailure, r.Run(context.Background(), 1))
	})

	t.Run("timeout", func(t *testing.T) {
		// sleep reads the argument as seconds, so a 1ms request with a
		// short grace is killed long before it exits.
		r := &CommandRunner{Command: "sleep", Grace: 50 * time.Millisecond, Logger: logger}
		require.Equal(t, OutcomeTimeout, r.Run(context.Background(), 1))
	})
}

func TestRingerSerializesRings(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess}
	c, _ := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
		require.NoError(t, err)
		require.NoError(t, c.Activate(ctx, r.ID))
		ids = append(ids, r.ID)
	}

	c.Shutdown()

	require.EqualValues(t, 8, runner.calls.Load())
	require.EqualValues(t, 1, runner.maxSeen.Load(), "rings must never overlap")
	for _, id := range ids {
		got, err := c.GetResource(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusUsed, got.Status)
	}
}

func TestFinalizeRetriesStorageErrors(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess}
	c, storage := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)
	require.NoError(t, c.Activate(ctx, r.ID))

	// Finalization writes fail until the backend recovers.
	storage.FailPut(true)
	time.AfterFunc(200*time.Millisecond, func() {
		storage.FailPut(false)
	})

	waitForStatus(t, c, r.ID, StatusUsed)
}

func TestFinalizeResourceDeletedMeanwhile(t *testing.T) {
	runner := &stubRunner{outcome: OutcomeSuccess, hold: make(chan struct{})}
	c, storage := testCore(t, runner, newFakeClock())
	ctx := context.Background()

	r, err := c.CreateResource(ctx, &CreateRequest{Milliseconds: 100})
	require.NoError(t, err)
	require.NoError(t, c.Activate(ctx, r.ID))
	waitForStatus(t, c, r.ID, StatusUsing)

	// Remove the entry out from under the ringer. Finalization logs and
	// moves on instead of retrying forever.
	require.NoError(t, storage.Delete(ctx, resourcePrefix+r.ID))
	close(runner.hold)
	c.Shutdown()

	_, err = c.GetResource(ctx, r.ID)
	require.ErrorIs(t, err, ErrUnknownResource)
}
