package dispense

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/frequency"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
	"github.com/pharmabot/dispenser-controller/internal/pkg/schedule"
)

// Manual handles user-initiated immediate dispense requests. Validation is
// synchronous and a hard precondition: a slot with no scheduled dose
// enqueues nothing. Execution and confirmation are asynchronous and not
// awaited.
type Manual struct {
	db      database
	devices devices
	states  states
	logger  *zap.Logger
	now     func() time.Time
}

func NewManual(db database, devices devices, states states) *Manual {
	return &Manual{
		db:      db,
		devices: devices,
		states:  states,
		logger:  zap.L(),
		now:     time.Now,
	}
}

// Dispense validates and enqueues a manual dispense for the medicine's dose
// count at the given slot. Returns the enqueued command.
func (m *Manual) Dispense(ctx context.Context, medicineID int64, slot model.Slot) (model.Command, error) {
	if !model.ValidSlot(slot) {
		return model.Command{}, &ValidationError{Reason: fmt.Sprintf("unknown time slot %q", slot)}
	}

	med, err := m.db.GetMedicine(ctx, medicineID)
	if err != nil {
		return model.Command{}, err
	}
	if !med.Active {
		return model.Command{}, &ValidationError{Reason: "medicine is not active"}
	}

	counts, err := frequency.Parse(med.FrequencySpec)
	if err != nil {
		return model.Command{}, err
	}
	count := counts.For(slot)
	if count == 0 {
		return model.Command{}, &ValidationError{Reason: "no dose scheduled for this time"}
	}

	if med.Compartment == nil {
		return model.Command{}, fmt.Errorf("medicine %d (%s): %w", med.ID, med.Name, schedule.ErrCompartmentUnassigned)
	}

	device, err := m.devices.OnlineDeviceForOwner(ctx, med.OwnerID)
	if err != nil {
		return model.Command{}, err
	}

	cmd := model.NewManualDispense(*med.Compartment, count, m.now())
	if err := m.states.Enqueue(device.DeviceID, cmd); err != nil {
		return model.Command{}, err
	}

	m.logger.Info("manual dispense enqueued",
		zap.Int64("medicine_id", medicineID),
		zap.String("slot", slot.String()),
		zap.String("device_id", device.DeviceID),
		zap.Int("dose_count", count))
	return cmd, nil
}
