package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errAlreadyRegistered = errors.New("publisher already registered")

// EventKind enumerates the notifications fanned out to registered adapters.
type EventKind string

func (k EventKind) String() string {
	return string(k)
}

const (
	DeviceRegistered EventKind = "device_registered"
	DoseDispatched   EventKind = "dose_dispatched"
	DoseTaken        EventKind = "dose_taken"
	DoseSkipped      EventKind = "dose_skipped"
)

// Event is one owner-visible occurrence in the dispensing pipeline.
type Event struct {
	Kind       EventKind `json:"kind"`
	OwnerID    string    `json:"owner_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	MedicineID int64     `json:"medicine_id,omitempty"`
	ScheduleID int64     `json:"schedule_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

type publisher interface {
	// PublishEvent delivers the event to the adapter's backend.
	PublishEvent(ctx context.Context, event Event) error
}

var (
	mu                  sync.RWMutex
	registerdPublishers = make(map[string]publisher)
)

// RegisterPublisher adds a named adapter. Registering the same name twice
// is an error.
func RegisterPublisher(name string, p publisher) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registerdPublishers[name]; ok {
		return errAlreadyRegistered
	}
	registerdPublishers[name] = p
	return nil
}

// Publish fans the event out to every registered adapter. Adapter failures
// are logged and skipped; delivery is best-effort and never blocks the
// dispensing pipeline.
func Publish(ctx context.Context, event Event) {
	mu.RLock()
	defer mu.RUnlock()
	for name, p := range registerdPublishers {
		if err := p.PublishEvent(ctx, event); err != nil {
			zap.L().Error("failed to publish event",
				zap.Error(err),
				zap.String("publisher", name),
				zap.String("kind", event.Kind.String()))
			continue
		}
		zap.L().Debug("published event",
			zap.String("publisher", name),
			zap.String("kind", event.Kind.String()),
			zap.String("owner_id", event.OwnerID))
	}
}

// Reset drops all registered adapters. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registerdPublishers = make(map[string]publisher)
}
