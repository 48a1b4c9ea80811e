package dispense

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabot/dispenser-controller/internal/pkg/frequency"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
	"github.com/pharmabot/dispenser-controller/internal/pkg/registry"
	"github.com/pharmabot/dispenser-controller/internal/pkg/schedule"
	"github.com/pharmabot/dispenser-controller/internal/pkg/statestore"
)

func newManualFixture(t *testing.T) (*Manual, *fakeDB, *fakeDevices, *statestore.Store) {
	t.Helper()

	db := newFakeDB()
	comp := 2
	db.medicines[7] = model.Medicine{
		ID:            7,
		OwnerID:       "owner-1",
		Name:          "Metformin",
		FrequencySpec: "1+0+1",
		Compartment:   &comp,
		Active:        true,
	}

	states := statestore.New()
	states.Ensure("esp32-01")
	devices := &fakeDevices{
		device: model.Device{DeviceID: "esp32-01", OwnerID: "owner-1", Active: true},
		online: true,
	}

	return NewManual(db, devices, states), db, devices, states
}

func TestManualDispense_Accepted(t *testing.T) {
	t.Parallel()
	manual, _, _, states := newManualFixture(t)

	cmd, err := manual.Dispense(context.Background(), 7, model.SlotEvening)
	require.NoError(t, err)
	assert.Equal(t, model.ManualDispense, cmd.Kind)
	require.NotNil(t, cmd.Dispense)
	assert.Equal(t, 2, cmd.Dispense.Compartment)
	assert.Equal(t, 1, cmd.Dispense.DoseCount)
	assert.Zero(t, cmd.Dispense.ScheduleID)

	pending, err := states.Drain("esp32-01")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmd.ID, pending[0].ID)
}

func TestManualDispense_ZeroDoseSlotRejected(t *testing.T) {
	t.Parallel()
	manual, _, _, states := newManualFixture(t)

	// Pre-existing command so we can prove the queue is untouched.
	existing := model.NewManualDispense(1, 1, time.Now())
	require.NoError(t, states.Enqueue("esp32-01", existing))

	_, err := manual.Dispense(context.Background(), 7, model.SlotAfternoon)
	validationErr := &ValidationError{}
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "no dose scheduled")

	pending, err := states.Drain("esp32-01")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, existing.ID, pending[0].ID)
}

func TestManualDispense_UnknownSlotRejected(t *testing.T) {
	t.Parallel()
	manual, _, _, _ := newManualFixture(t)

	_, err := manual.Dispense(context.Background(), 7, model.Slot("midnight"))
	validationErr := &ValidationError{}
	assert.ErrorAs(t, err, &validationErr)
}

func TestManualDispense_InactiveMedicineRejected(t *testing.T) {
	t.Parallel()
	manual, db, _, _ := newManualFixture(t)
	med := db.medicines[7]
	med.Active = false
	db.medicines[7] = med

	_, err := manual.Dispense(context.Background(), 7, model.SlotMorning)
	validationErr := &ValidationError{}
	assert.ErrorAs(t, err, &validationErr)
}

func TestManualDispense_UnparseableFrequency(t *testing.T) {
	t.Parallel()
	manual, db, _, states := newManualFixture(t)
	med := db.medicines[7]
	med.FrequencySpec = "whenever"
	db.medicines[7] = med

	_, err := manual.Dispense(context.Background(), 7, model.SlotMorning)
	parseErr := &frequency.ParseError{}
	require.ErrorAs(t, err, &parseErr)

	count, err := states.PendingCount("esp32-01")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManualDispense_MissingCompartment(t *testing.T) {
	t.Parallel()
	manual, db, _, _ := newManualFixture(t)
	med := db.medicines[7]
	med.Compartment = nil
	db.medicines[7] = med

	_, err := manual.Dispense(context.Background(), 7, model.SlotMorning)
	assert.ErrorIs(t, err, schedule.ErrCompartmentUnassigned)
}

func TestManualDispense_NoOnlineDevice(t *testing.T) {
	t.Parallel()
	manual, _, devices, _ := newManualFixture(t)
	devices.online = false

	_, err := manual.Dispense(context.Background(), 7, model.SlotMorning)
	assert.ErrorIs(t, err, registry.ErrNoOnlineDevice)
}
