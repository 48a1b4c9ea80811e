package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandKind is the closed set of commands a device knows how to execute.
type CommandKind string

func (k CommandKind) String() string {
	return string(k)
}

const (
	ScheduledDispense    CommandKind = "scheduled_dispense"
	ManualDispense       CommandKind = "manual_dispense"
	DiagnosticPing       CommandKind = "diagnostic_ping"
	DiagnosticServoSweep CommandKind = "diagnostic_servo_sweep"
)

// DispenseParams are the parameters for both dispense command kinds.
// ScheduleID is zero for manual dispenses.
type DispenseParams struct {
	Compartment int   `json:"compartment"`
	DoseCount   int   `json:"dose_count"`
	ScheduleID  int64 `json:"schedule_id,omitempty"`
}

// DiagnosticParams are the parameters for diagnostic command kinds.
type DiagnosticParams struct {
	Target string `json:"target,omitempty"`
}

// Command is one entry in a device's pending queue. Exactly one params
// record is set, matching Kind. Unknown kinds are rejected at decode time
// rather than passed through as untyped maps.
type Command struct {
	ID         string
	Kind       CommandKind
	CreatedAt  time.Time
	Dispense   *DispenseParams
	Diagnostic *DiagnosticParams
}

// NewScheduledDispense builds the command enqueued for a due schedule.
func NewScheduledDispense(compartment, doseCount int, scheduleID int64, now time.Time) Command {
	return Command{
		ID:        uuid.NewString(),
		Kind:      ScheduledDispense,
		CreatedAt: now,
		Dispense: &DispenseParams{
			Compartment: compartment,
			DoseCount:   doseCount,
			ScheduleID:  scheduleID,
		},
	}
}

// NewManualDispense builds the command enqueued for a user-initiated dispense.
func NewManualDispense(compartment, doseCount int, now time.Time) Command {
	return Command{
		ID:        uuid.NewString(),
		Kind:      ManualDispense,
		CreatedAt: now,
		Dispense: &DispenseParams{
			Compartment: compartment,
			DoseCount:   doseCount,
		},
	}
}

// NewDiagnostic builds a diagnostic command for the given kind and target.
func NewDiagnostic(kind CommandKind, target string, now time.Time) (Command, error) {
	if kind != DiagnosticPing && kind != DiagnosticServoSweep {
		return Command{}, fmt.Errorf("not a diagnostic command kind: %q", kind)
	}
	return Command{
		ID:         uuid.NewString(),
		Kind:       kind,
		CreatedAt:  now,
		Diagnostic: &DiagnosticParams{Target: target},
	}, nil
}

type commandEnvelope struct {
	ID        string          `json:"id"`
	Kind      CommandKind     `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Params    json.RawMessage `json:"params"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	env := commandEnvelope{
		ID:        c.ID,
		Kind:      c.Kind,
		CreatedAt: c.CreatedAt,
	}

	var params any
	switch c.Kind {
	case ScheduledDispense, ManualDispense:
		if c.Dispense == nil {
			return nil, fmt.Errorf("command %s: missing dispense params", c.Kind)
		}
		params = c.Dispense
	case DiagnosticPing, DiagnosticServoSweep:
		if c.Diagnostic == nil {
			return nil, fmt.Errorf("command %s: missing diagnostic params", c.Kind)
		}
		params = c.Diagnostic
	default:
		return nil, fmt.Errorf("unknown command kind: %q", c.Kind)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	env.Params = data
	return json.Marshal(env)
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	out := Command{
		ID:        env.ID,
		Kind:      env.Kind,
		CreatedAt: env.CreatedAt,
	}

	switch env.Kind {
	case ScheduledDispense, ManualDispense:
		params := &DispenseParams{}
		if err := json.Unmarshal(env.Params, params); err != nil {
			return err
		}
		out.Dispense = params
	case DiagnosticPing, DiagnosticServoSweep:
		params := &DiagnosticParams{}
		if err := json.Unmarshal(env.Params, params); err != nil {
			return err
		}
		out.Diagnostic = params
	default:
		return fmt.Errorf("unknown command kind: %q", env.Kind)
	}

	*c = out
	return nil
}
