package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/frequency"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

// ErrCompartmentUnassigned blocks schedule generation for a medicine that
// has no physical compartment yet. The failure is scoped to that medicine.
var ErrCompartmentUnassigned = errors.New("medicine has no compartment assigned")

// DefaultSlotHours is the per-deployment mapping from dosing slot to local
// clock hour.
var DefaultSlotHours = map[model.Slot]int{
	model.SlotMorning:   8,
	model.SlotAfternoon: 14,
	model.SlotEvening:   20,
}

type repository interface {
	// DeleteUnresolvedFrom removes pending/dispatched schedules for the
	// medicine with scheduledAt >= from. Taken/skipped history is kept.
	DeleteUnresolvedFrom(ctx context.Context, medicineID int64, from time.Time) error
	// InsertSchedules persists rows, silently keeping any existing row at
	// the same (medicineID, scheduledAt).
	InsertSchedules(ctx context.Context, schedules []model.Schedule) error
}

// Generator expands a medicine's frequency, start date and duration into
// discrete pending Schedule rows at the deployment's canonical slot times.
type Generator struct {
	repo      repository
	loc       *time.Location
	slotHours map[model.Slot]int
	logger    *zap.Logger
}

func NewGenerator(repo repository, loc *time.Location) *Generator {
	return &Generator{
		repo:      repo,
		loc:       loc,
		slotHours: DefaultSlotHours,
		logger:    zap.L(),
	}
}

// Generate returns one pending Schedule per day per slot with a positive
// dose count, for each day in [startDate, startDate+durationDays). A slot
// with count 0 never produces a row.
func (g *Generator) Generate(medicine model.Medicine, startDate time.Time, durationDays int) ([]model.Schedule, error) {
	if medicine.Compartment == nil {
		return nil, fmt.Errorf("medicine %d (%s): %w", medicine.ID, medicine.Name, ErrCompartmentUnassigned)
	}

	counts, err := frequency.Parse(medicine.FrequencySpec)
	if err != nil {
		return nil, fmt.Errorf("medicine %d (%s): %w", medicine.ID, medicine.Name, err)
	}

	day := g.dayStart(startDate)
	var schedules []model.Schedule
	for d := 0; d < durationDays; d++ {
		for _, slot := range model.Slots {
			count := counts.For(slot)
			if count == 0 {
				continue
			}
			schedules = append(schedules, model.Schedule{
				MedicineID:  medicine.ID,
				ScheduledAt: time.Date(day.Year(), day.Month(), day.Day(), g.slotHours[slot], 0, 0, 0, g.loc),
				DoseCount:   count,
				Status:      model.SchedulePending,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return schedules, nil
}

// RegenerateFrom replaces the medicine's unresolved schedules from fromDate
// onward with a freshly generated set. Running it twice with unchanged
// medicine data yields an identical result, and taken/skipped history is
// never touched.
func (g *Generator) RegenerateFrom(ctx context.Context, medicine model.Medicine, fromDate time.Time) error {
	from := g.dayStart(fromDate)

	all, err := g.Generate(medicine, medicine.StartDate, medicine.DurationDays)
	if err != nil {
		return err
	}

	remaining := make([]model.Schedule, 0, len(all))
	for _, s := range all {
		if !s.ScheduledAt.Before(from) {
			remaining = append(remaining, s)
		}
	}

	if err := g.repo.DeleteUnresolvedFrom(ctx, medicine.ID, from); err != nil {
		return err
	}
	if err := g.repo.InsertSchedules(ctx, remaining); err != nil {
		return err
	}

	g.logger.Info("schedules regenerated",
		zap.Int64("medicine_id", medicine.ID),
		zap.Time("from", from),
		zap.Int("count", len(remaining)))
	return nil
}

func (g *Generator) dayStart(t time.Time) time.Time {
	local := t.In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
}
