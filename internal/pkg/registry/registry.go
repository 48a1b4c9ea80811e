package registry

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
	"github.com/pharmabot/dispenser-controller/pkg/hasher"
)

type database interface {
	UpsertDevice(ctx context.Context, device model.Device, tokenHash string) error
	GetDevice(ctx context.Context, deviceID string) (model.Device, error)
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	DevicesForOwner(ctx context.Context, ownerID string) ([]model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	DeactivateDevice(ctx context.Context, deviceID string) error
}

type states interface {
	Ensure(deviceID string)
}

// Registry owns device identity: registration, heartbeats and the
// online/offline derivation. Runtime state lives in the statestore; the
// registry only makes sure a statestore record exists for every device.
type Registry struct {
	db                database
	states            states
	heartbeatInterval time.Duration
	logger            *zap.Logger
	now               func() time.Time
}

func New(db database, states states, heartbeatInterval time.Duration) *Registry {
	return &Registry{
		db:                db,
		states:            states,
		heartbeatInterval: heartbeatInterval,
		logger:            zap.L(),
		now:               time.Now,
	}
}

// Prime loads every persisted device into the statestore. Called once on
// startup so devices registered before a restart can report and poll without
// re-registering. Their queues start empty; anything enqueued before the
// restart is covered by the trigger's timeout path.
func (r *Registry) Prime(ctx context.Context) error {
	devices, err := r.db.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		r.states.Ensure(d.DeviceID)
	}
	r.logger.Info("device registry primed", zap.Int("devices", len(devices)))
	return nil
}

// Register creates or updates a device record, idempotent on deviceID.
// The returned token is shown to the device exactly once; only its hash is
// persisted.
func (r *Registry) Register(ctx context.Context, deviceID, name, ip, ownerID string) (model.Device, string, error) {
	token, err := hasher.GenerateToken(24)
	if err != nil {
		return model.Device{}, "", err
	}
	tokenHash, err := hasher.HashToken(token)
	if err != nil {
		return model.Device{}, "", err
	}

	device := model.Device{
		DeviceID:   deviceID,
		OwnerID:    ownerID,
		Name:       name,
		IPAddress:  ip,
		LastSeenAt: r.now(),
		Active:     true,
	}
	if err := r.db.UpsertDevice(ctx, device, tokenHash); err != nil {
		return model.Device{}, "", err
	}
	r.states.Ensure(deviceID)

	r.logger.Info("device registered",
		zap.String("device_id", deviceID),
		zap.String("owner_id", ownerID),
		zap.String("ip", ip))
	publisher.Publish(ctx, publisher.Event{
		Kind:     publisher.DeviceRegistered,
		OwnerID:  ownerID,
		DeviceID: deviceID,
		At:       device.LastSeenAt,
	})
	return device, token, nil
}

// Heartbeat updates the device's last-seen timestamp only.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string) error {
	return r.db.TouchDevice(ctx, deviceID, r.now())
}

// Get returns the persisted device record.
func (r *Registry) Get(ctx context.Context, deviceID string) (model.Device, error) {
	return r.db.GetDevice(ctx, deviceID)
}

// Online reports liveness for a device at the given instant.
func (r *Registry) Online(device model.Device, now time.Time) bool {
	return device.Active && device.Online(now, r.heartbeatInterval)
}

// OnlineDeviceForOwner returns an online device belonging to the owner, or
// ErrNoOnlineDevice when the owner has none.
func (r *Registry) OnlineDeviceForOwner(ctx context.Context, ownerID string) (model.Device, error) {
	devices, err := r.db.DevicesForOwner(ctx, ownerID)
	if err != nil {
		return model.Device{}, err
	}

	now := r.now()
	device, found := lo.Find(devices, func(d model.Device) bool {
		return r.Online(d, now)
	})
	if !found {
		return model.Device{}, ErrNoOnlineDevice
	}
	return device, nil
}

// Deactivate marks a device owner-removed. Deactivated devices are never
// deleted; history referencing them stays intact.
func (r *Registry) Deactivate(ctx context.Context, deviceID string) error {
	if err := r.db.DeactivateDevice(ctx, deviceID); err != nil {
		return err
	}
	r.logger.Info("device deactivated", zap.String("device_id", deviceID))
	return nil
}
