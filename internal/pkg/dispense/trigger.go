package dispense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/contxt"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
	"github.com/pharmabot/dispenser-controller/internal/pkg/registry"
)

type database interface {
	DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error)
	TimedOutSchedules(ctx context.Context, cutoff time.Time) ([]model.Schedule, error)
	GetSchedule(ctx context.Context, scheduleID int64) (model.Schedule, error)
	GetMedicine(ctx context.Context, medicineID int64) (model.Medicine, error)
	MarkDispatched(ctx context.Context, scheduleID int64, at time.Time) error
	MarkTaken(ctx context.Context, scheduleID int64, at time.Time) error
	MarkSkipped(ctx context.Context, scheduleID int64, reason string) error
}

type devices interface {
	OnlineDeviceForOwner(ctx context.Context, ownerID string) (model.Device, error)
}

type states interface {
	Enqueue(deviceID string, cmd model.Command) error
}

// Trigger is the periodic scan that turns due schedules into device
// commands and gives up on dispatches that never get confirmed. It is the
// only compensation for the at-most-once drain: a dispatched schedule with
// no confirmation inside the timeout is re-enqueued up to the retry cap,
// then marked skipped with a reason for the owner.
type Trigger struct {
	db              database
	devices         devices
	states          states
	scanInterval    time.Duration
	dispatchTimeout time.Duration
	retryMax        int
	logger          *zap.Logger
	now             func() time.Time
}

func NewTrigger(db database, devices devices, states states, scanInterval, dispatchTimeout time.Duration, retryMax int) *Trigger {
	return &Trigger{
		db:              db,
		devices:         devices,
		states:          states,
		scanInterval:    scanInterval,
		dispatchTimeout: dispatchTimeout,
		retryMax:        retryMax,
		logger:          zap.L(),
		now:             time.Now,
	}
}

// Run executes Scan on a fixed interval until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context, errChan chan error) error {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", t.scanInterval), func() {
		scanCtx := contxt.NewContext(t.scanInterval)
		if err := t.Scan(scanCtx); err != nil {
			t.logger.Error("dispense scan failed", zap.Error(err))
			errChan <- err
		}
	}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	c.Run()
	return ctx.Err()
}

// Scan runs one full pass: dispatch due schedules, then sweep dispatched
// ones past the confirmation timeout.
func (t *Trigger) Scan(ctx context.Context) error {
	if err := t.dispatchDue(ctx); err != nil {
		return err
	}
	return t.sweepUnconfirmed(ctx)
}

func (t *Trigger) dispatchDue(ctx context.Context) error {
	now := t.now()
	due, err := t.db.DueSchedules(ctx, now)
	if err != nil {
		return err
	}

	for _, s := range due {
		if err := t.dispatch(ctx, s, now); err != nil {
			// Medicine-scoped failure. The schedule stays pending and is
			// retried on the next scan; other schedules are unaffected.
			t.logger.Warn("could not dispatch schedule",
				zap.Int64("schedule_id", s.ID),
				zap.Int64("medicine_id", s.MedicineID),
				zap.Error(err))
		}
	}
	return nil
}

func (t *Trigger) dispatch(ctx context.Context, s model.Schedule, now time.Time) error {
	med, err := t.db.GetMedicine(ctx, s.MedicineID)
	if err != nil {
		return err
	}
	if med.Compartment == nil {
		return fmt.Errorf("medicine %d has no compartment assigned", med.ID)
	}

	device, err := t.devices.OnlineDeviceForOwner(ctx, med.OwnerID)
	if err != nil {
		return err
	}

	cmd := model.NewScheduledDispense(*med.Compartment, s.DoseCount, s.ID, now)
	if err := t.states.Enqueue(device.DeviceID, cmd); err != nil {
		return err
	}
	if err := t.db.MarkDispatched(ctx, s.ID, now); err != nil {
		return err
	}

	t.logger.Info("schedule dispatched",
		zap.Int64("schedule_id", s.ID),
		zap.Int64("medicine_id", s.MedicineID),
		zap.String("device_id", device.DeviceID),
		zap.Int("dose_count", s.DoseCount))
	publisher.Publish(ctx, publisher.Event{
		Kind:       publisher.DoseDispatched,
		OwnerID:    med.OwnerID,
		DeviceID:   device.DeviceID,
		MedicineID: med.ID,
		ScheduleID: s.ID,
		At:         now,
	})
	return nil
}

func (t *Trigger) sweepUnconfirmed(ctx context.Context) error {
	now := t.now()
	timedOut, err := t.db.TimedOutSchedules(ctx, now.Add(-t.dispatchTimeout))
	if err != nil {
		return err
	}

	for _, s := range timedOut {
		if s.Attempts >= t.retryMax {
			if err := t.skip(ctx, s, now); err != nil {
				return err
			}
			continue
		}

		med, err := t.db.GetMedicine(ctx, s.MedicineID)
		if err != nil {
			return err
		}

		device, err := t.devices.OnlineDeviceForOwner(ctx, med.OwnerID)
		switch {
		case errors.Is(err, registry.ErrNoOnlineDevice):
			// Still counts as an attempt: an owner with their device
			// permanently offline must not keep a schedule dispatched
			// forever.
			t.logger.Warn("re-dispatch attempted with no online device",
				zap.Int64("schedule_id", s.ID),
				zap.Int("attempts", s.Attempts))
		case err != nil:
			return err
		default:
			cmd := model.NewScheduledDispense(*med.Compartment, s.DoseCount, s.ID, now)
			if err := t.states.Enqueue(device.DeviceID, cmd); err != nil {
				return err
			}
			t.logger.Info("schedule re-dispatched",
				zap.Int64("schedule_id", s.ID),
				zap.String("device_id", device.DeviceID),
				zap.Int("attempts", s.Attempts))
		}

		if err := t.db.MarkDispatched(ctx, s.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trigger) skip(ctx context.Context, s model.Schedule, now time.Time) error {
	if err := t.db.MarkSkipped(ctx, s.ID, SkipReasonNoConfirmation); err != nil {
		return err
	}

	med, err := t.db.GetMedicine(ctx, s.MedicineID)
	if err != nil {
		return err
	}

	t.logger.Warn("schedule skipped",
		zap.Int64("schedule_id", s.ID),
		zap.Int64("medicine_id", s.MedicineID),
		zap.Int("attempts", s.Attempts),
		zap.String("reason", SkipReasonNoConfirmation))
	publisher.Publish(ctx, publisher.Event{
		Kind:       publisher.DoseSkipped,
		OwnerID:    med.OwnerID,
		MedicineID: med.ID,
		ScheduleID: s.ID,
		Detail:     SkipReasonNoConfirmation,
		At:         now,
	})
	return nil
}

// Confirm handles a device-reported completion: dispatched -> taken with
// takenAt = now. A duplicate confirmation of an already-taken schedule is a
// no-op. Confirmations for pending or skipped schedules are logged and
// dropped; status never moves backward.
func (t *Trigger) Confirm(ctx context.Context, scheduleID int64) error {
	s, err := t.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	switch s.Status {
	case model.ScheduleTaken:
		return nil
	case model.ScheduleDispatched:
		now := t.now()
		if err := t.db.MarkTaken(ctx, scheduleID, now); err != nil {
			return err
		}
		med, err := t.db.GetMedicine(ctx, s.MedicineID)
		if err != nil {
			return err
		}
		t.logger.Info("dose confirmed",
			zap.Int64("schedule_id", scheduleID),
			zap.Int64("medicine_id", s.MedicineID))
		publisher.Publish(ctx, publisher.Event{
			Kind:       publisher.DoseTaken,
			OwnerID:    med.OwnerID,
			MedicineID: med.ID,
			ScheduleID: scheduleID,
			At:         now,
		})
		return nil
	default:
		t.logger.Warn("ignoring confirmation for schedule not dispatched",
			zap.Int64("schedule_id", scheduleID),
			zap.String("status", s.Status.String()))
		return nil
	}
}

// OverrideTaken marks a schedule taken on the owner's say-so, regardless of
// whether a device confirmation ever arrived. Forward-only.
func (t *Trigger) OverrideTaken(ctx context.Context, scheduleID int64) error {
	s, err := t.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if s.Resolved() {
		return nil
	}
	return t.db.MarkTaken(ctx, scheduleID, t.now())
}

// OverrideSkipped marks a schedule skipped on the owner's say-so.
func (t *Trigger) OverrideSkipped(ctx context.Context, scheduleID int64, reason string) error {
	s, err := t.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if s.Resolved() {
		return nil
	}
	return t.db.MarkSkipped(ctx, scheduleID, reason)
}
