package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

func TestScheduledDispenseRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	cmd := model.NewScheduledDispense(4, 2, 77, now)

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var out model.Command
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, cmd.ID, out.ID)
	assert.Equal(t, model.ScheduledDispense, out.Kind)
	require.NotNil(t, out.Dispense)
	assert.Equal(t, 4, out.Dispense.Compartment)
	assert.Equal(t, 2, out.Dispense.DoseCount)
	assert.Equal(t, int64(77), out.Dispense.ScheduleID)
	assert.Nil(t, out.Diagnostic)
}

func TestManualDispenseHasNoScheduleID(t *testing.T) {
	cmd := model.NewManualDispense(1, 1, time.Now())

	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "schedule_id")
}

func TestDiagnosticCommands(t *testing.T) {
	cmd, err := model.NewDiagnostic(model.DiagnosticServoSweep, "servo-2", time.Now())
	require.NoError(t, err)

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var out model.Command
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Diagnostic)
	assert.Equal(t, "servo-2", out.Diagnostic.Target)

	_, err = model.NewDiagnostic(model.ScheduledDispense, "", time.Now())
	assert.Error(t, err)
}

func TestUnknownKindRejectedOnDecode(t *testing.T) {
	payload := `{"id":"x","kind":"self_destruct","created_at":"2025-03-10T08:00:00Z","params":{}}`

	var out model.Command
	err := json.Unmarshal([]byte(payload), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command kind")
}

func TestMarshalRejectsMismatchedParams(t *testing.T) {
	cmd := model.Command{ID: "x", Kind: model.ScheduledDispense}
	_, err := json.Marshal(cmd)
	assert.Error(t, err)
}

func TestDeviceOnline(t *testing.T) {
	now := time.Now()
	interval := time.Minute

	d := model.Device{LastSeenAt: now.Add(-90 * time.Second)}
	assert.True(t, d.Online(now, interval))

	d.LastSeenAt = now.Add(-2 * time.Minute)
	assert.False(t, d.Online(now, interval))
}

func TestScheduleResolved(t *testing.T) {
	s := model.Schedule{Status: model.SchedulePending}
	assert.False(t, s.Resolved())
	s.Status = model.ScheduleDispatched
	assert.False(t, s.Resolved())
	s.Status = model.ScheduleTaken
	assert.True(t, s.Resolved())
	s.Status = model.ScheduleSkipped
	assert.True(t, s.Resolved())
}
