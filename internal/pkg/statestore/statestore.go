// Package statestore owns the runtime half of every device record: the last
// reported hardware snapshot and the pending command queue. Two independent
// writers race on that record (the device reporting state, the scheduler
// enqueueing commands), so every operation runs as a single critical section
// per device. A state report never touches the queue and an enqueue never
// touches the reported state; the lost-command defect of a naive
// last-write-wins update is structurally impossible here.
package statestore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

type deviceRecord struct {
	mu       sync.Mutex
	reported model.ReportedState
	pending  []model.Command
}

// Store holds one record per registered device. Records are created by the
// registry on registration/startup prime, never implicitly by reports or
// polls; operations on unknown ids fail with model.ErrUnknownDevice.
type Store struct {
	mu      sync.RWMutex
	records map[string]*deviceRecord
	logger  *zap.Logger
}

func New() *Store {
	return &Store{
		records: make(map[string]*deviceRecord),
		logger:  zap.L(),
	}
}

// Ensure creates an empty record for the device if none exists. Idempotent;
// an existing record keeps its queue and reported state.
func (s *Store) Ensure(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[deviceID]; ok {
		return
	}
	s.records[deviceID] = &deviceRecord{}
}

func (s *Store) record(deviceID string) (*deviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deviceID]
	if !ok {
		return nil, model.ErrUnknownDevice
	}
	return rec, nil
}

// ReportState replaces the reported-state fields of the device record with
// the incoming snapshot. The pending queue is read back unchanged from the
// stored record; it is never derived from or overwritten by the payload.
func (s *Store) ReportState(deviceID string, state model.ReportedState) error {
	rec, err := s.record(deviceID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reported = state
	s.logger.Debug("device state reported",
		zap.String("device_id", deviceID),
		zap.String("operation", state.CurrentOperation),
		zap.Int("pending_commands", len(rec.pending)))
	return nil
}

// Enqueue appends a command to the device's pending queue. The queue is
// append-only from the server side; only Drain may clear it.
func (s *Store) Enqueue(deviceID string, cmd model.Command) error {
	rec, err := s.record(deviceID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.pending = append(rec.pending, cmd)
	s.logger.Debug("command enqueued",
		zap.String("device_id", deviceID),
		zap.String("kind", cmd.Kind.String()),
		zap.Int("queue_depth", len(rec.pending)))
	return nil
}

// Drain atomically returns the pending queue and resets it to empty.
// Delivery is at-most-once: a batch lost after draining is not retransmitted
// by this primitive, only compensated at the scheduling layer.
func (s *Store) Drain(deviceID string) ([]model.Command, error) {
	rec, err := s.record(deviceID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	drained := rec.pending
	rec.pending = nil
	if len(drained) > 0 {
		s.logger.Debug("command queue drained",
			zap.String("device_id", deviceID),
			zap.Int("count", len(drained)))
	}
	return drained, nil
}

// Snapshot returns a copy of the device's reported state and pending queue
// for read-only surfaces. The copy is detached from the live record.
func (s *Store) Snapshot(deviceID string) (model.ReportedState, []model.Command, error) {
	rec, err := s.record(deviceID)
	if err != nil {
		return model.ReportedState{}, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	state := rec.reported
	state.ServoAngles = append([]int(nil), rec.reported.ServoAngles...)
	pending := append([]model.Command(nil), rec.pending...)
	return state, pending, nil
}

// PendingCount returns the current queue depth for a device.
func (s *Store) PendingCount(deviceID string) (int, error) {
	rec, err := s.record(deviceID)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.pending), nil
}
