package statestore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

func TestStore_UnknownDevice(t *testing.T) {
	t.Parallel()
	s := New()

	err := s.ReportState("missing", model.ReportedState{})
	assert.ErrorIs(t, err, model.ErrUnknownDevice)

	err = s.Enqueue("missing", model.NewManualDispense(1, 1, time.Now()))
	assert.ErrorIs(t, err, model.ErrUnknownDevice)

	_, err = s.Drain("missing")
	assert.ErrorIs(t, err, model.ErrUnknownDevice)
}

func TestStore_ReportStatePreservesQueue(t *testing.T) {
	t.Parallel()
	s := New()
	s.Ensure("esp32-01")

	c1 := model.NewManualDispense(1, 2, time.Now())
	c2 := model.NewScheduledDispense(2, 1, 42, time.Now())
	require.NoError(t, s.Enqueue("esp32-01", c1))
	require.NoError(t, s.Enqueue("esp32-01", c2))

	incoming := model.ReportedState{
		ServoAngles:      []int{0, 90, 180},
		Distance:         12.5,
		LedOn:            true,
		BuzzerOn:         false,
		CurrentOperation: "idle",
	}
	require.NoError(t, s.ReportState("esp32-01", incoming))

	state, pending, err := s.Snapshot("esp32-01")
	require.NoError(t, err)
	assert.Equal(t, incoming, state)
	require.Len(t, pending, 2)
	assert.Equal(t, c1.ID, pending[0].ID)
	assert.Equal(t, c2.ID, pending[1].ID)
}

func TestStore_DrainExactlyOncePerCall(t *testing.T) {
	t.Parallel()
	s := New()
	s.Ensure("esp32-01")

	c1 := model.NewManualDispense(1, 1, time.Now())
	c2 := model.NewManualDispense(2, 1, time.Now())
	require.NoError(t, s.Enqueue("esp32-01", c1))
	require.NoError(t, s.Enqueue("esp32-01", c2))

	drained, err := s.Drain("esp32-01")
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, c1.ID, drained[0].ID)
	assert.Equal(t, c2.ID, drained[1].ID)

	again, err := s.Drain("esp32-01")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestStore_EnsureIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New()
	s.Ensure("esp32-01")
	require.NoError(t, s.Enqueue("esp32-01", model.NewManualDispense(1, 1, time.Now())))

	// Re-registering the same device must not wipe its queue.
	s.Ensure("esp32-01")

	count, err := s.PendingCount("esp32-01")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	t.Parallel()
	s := New()
	s.Ensure("esp32-01")
	require.NoError(t, s.ReportState("esp32-01", model.ReportedState{ServoAngles: []int{0, 45}}))

	state, _, err := s.Snapshot("esp32-01")
	require.NoError(t, err)
	state.ServoAngles[0] = 999

	fresh, _, err := s.Snapshot("esp32-01")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 45}, fresh.ServoAngles)
}

// TestStore_ConcurrentWritersNeverLoseCommands hammers one device with
// racing state reports and enqueues, then checks every command is either
// still pending or was drained exactly once.
func TestStore_ConcurrentWritersNeverLoseCommands(t *testing.T) {
	t.Parallel()
	s := New()
	s.Ensure("esp32-01")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	drainedCh := make(chan model.Command, writers*perWriter)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				cmd := model.NewManualDispense(w, i+1, time.Now())
				cmd.ID = fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, s.Enqueue("esp32-01", cmd))
			}
		}(w)
	}

	// Racing reporter and drainer.
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.ReportState("esp32-01", model.ReportedState{Distance: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			drained, err := s.Drain("esp32-01")
			assert.NoError(t, err)
			for _, cmd := range drained {
				drainedCh <- cmd
			}
		}
	}()

	wg.Wait()

	remaining, err := s.Drain("esp32-01")
	require.NoError(t, err)
	for _, cmd := range remaining {
		drainedCh <- cmd
	}
	close(drainedCh)

	seen := map[string]int{}
	for cmd := range drainedCh {
		seen[cmd.ID]++
	}

	assert.Len(t, seen, writers*perWriter)
	for id, n := range seen {
		assert.Equal(t, 1, n, "command %s delivered %d times", id, n)
	}
}
