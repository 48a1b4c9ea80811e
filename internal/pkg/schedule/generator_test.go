package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabot/dispenser-controller/internal/pkg/frequency"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

// fakeRepo mimics the unique-(medicine_id, scheduled_at) behaviour of the
// schedules table, including keeping resolved rows on conflicting inserts.
type fakeRepo struct {
	rows map[time.Time]model.Schedule
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[time.Time]model.Schedule)}
}

func (f *fakeRepo) DeleteUnresolvedFrom(_ context.Context, _ int64, from time.Time) error {
	for at, row := range f.rows {
		if !at.Before(from) && !row.Resolved() {
			delete(f.rows, at)
		}
	}
	return nil
}

func (f *fakeRepo) InsertSchedules(_ context.Context, schedules []model.Schedule) error {
	for _, s := range schedules {
		if _, exists := f.rows[s.ScheduledAt]; exists {
			continue
		}
		f.rows[s.ScheduledAt] = s
	}
	return nil
}

func compartment(n int) *int {
	return &n
}

func testMedicine(spec string) model.Medicine {
	return model.Medicine{
		ID:            7,
		OwnerID:       "owner-1",
		Name:          "Amoxicillin",
		Dosage:        "500mg",
		FrequencySpec: spec,
		Compartment:   compartment(2),
		StartDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		DurationDays:  2,
		Active:        true,
	}
}

func TestGenerate_MorningEveningTwoDays(t *testing.T) {
	t.Parallel()
	gen := NewGenerator(newFakeRepo(), time.UTC)
	med := testMedicine("1+0+1")

	schedules, err := gen.Generate(med, med.StartDate, med.DurationDays)
	require.NoError(t, err)
	require.Len(t, schedules, 4)

	expected := []time.Time{
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 20, 0, 0, 0, time.UTC),
	}
	for i, s := range schedules {
		assert.True(t, expected[i].Equal(s.ScheduledAt), "schedule %d at %s", i, s.ScheduledAt)
		assert.Equal(t, 1, s.DoseCount)
		assert.Equal(t, model.SchedulePending, s.Status)
		assert.NotEqual(t, 14, s.ScheduledAt.Hour(), "no afternoon slot for 1+0+1")
	}
}

func TestGenerate_DoseCountsFollowSlots(t *testing.T) {
	t.Parallel()
	gen := NewGenerator(newFakeRepo(), time.UTC)
	med := testMedicine("2+1+3")
	med.DurationDays = 1

	schedules, err := gen.Generate(med, med.StartDate, med.DurationDays)
	require.NoError(t, err)
	require.Len(t, schedules, 3)
	assert.Equal(t, 2, schedules[0].DoseCount)
	assert.Equal(t, 1, schedules[1].DoseCount)
	assert.Equal(t, 3, schedules[2].DoseCount)
}

func TestGenerate_SlotTimesInLocalZone(t *testing.T) {
	t.Parallel()
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	gen := NewGenerator(newFakeRepo(), dhaka)
	med := testMedicine("1+0+0")
	med.DurationDays = 1

	schedules, err := gen.Generate(med, med.StartDate, med.DurationDays)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, 8, schedules[0].ScheduledAt.In(dhaka).Hour())
}

func TestGenerate_FailsWithoutCompartment(t *testing.T) {
	t.Parallel()
	gen := NewGenerator(newFakeRepo(), time.UTC)
	med := testMedicine("1+0+1")
	med.Compartment = nil

	_, err := gen.Generate(med, med.StartDate, med.DurationDays)
	assert.ErrorIs(t, err, ErrCompartmentUnassigned)
}

func TestGenerate_FailsOnUnknownFrequency(t *testing.T) {
	t.Parallel()
	gen := NewGenerator(newFakeRepo(), time.UTC)
	med := testMedicine("every full moon")

	_, err := gen.Generate(med, med.StartDate, med.DurationDays)
	parseErr := &frequency.ParseError{}
	assert.ErrorAs(t, err, &parseErr)
}

func TestRegenerateFrom_Idempotent(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	gen := NewGenerator(repo, time.UTC)
	med := testMedicine("1+0+1")

	require.NoError(t, gen.RegenerateFrom(context.Background(), med, med.StartDate))
	first := make(map[time.Time]model.Schedule, len(repo.rows))
	for at, row := range repo.rows {
		first[at] = row
	}

	require.NoError(t, gen.RegenerateFrom(context.Background(), med, med.StartDate))
	assert.Equal(t, first, repo.rows)
	assert.Len(t, repo.rows, 4)
}

func TestRegenerateFrom_KeepsResolvedHistory(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	gen := NewGenerator(repo, time.UTC)
	med := testMedicine("1+0+1")

	require.NoError(t, gen.RegenerateFrom(context.Background(), med, med.StartDate))

	// Owner takes the first dose.
	takenAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	taken := repo.rows[takenAt]
	taken.Status = model.ScheduleTaken
	repo.rows[takenAt] = taken

	require.NoError(t, gen.RegenerateFrom(context.Background(), med, med.StartDate))

	assert.Equal(t, model.ScheduleTaken, repo.rows[takenAt].Status, "taken history must survive regeneration")
	assert.Len(t, repo.rows, 4)
}

func TestRegenerateFrom_OnlyRemainingWindow(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	gen := NewGenerator(repo, time.UTC)
	med := testMedicine("1+0+1")

	// Regenerate from day two: day one rows are out of the window and must
	// not be recreated.
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, gen.RegenerateFrom(context.Background(), med, from))

	assert.Len(t, repo.rows, 2)
	for at := range repo.rows {
		assert.False(t, at.Before(from))
	}
}
