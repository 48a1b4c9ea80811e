package model

import (
	"time"
)

// Slot is one of the three fixed daily dosing windows.
type Slot string

func (s Slot) String() string {
	return string(s)
}

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
)

// Slots lists the dosing windows in canonical day order.
var Slots = []Slot{SlotMorning, SlotAfternoon, SlotEvening}

// ValidSlot reports whether s names a known dosing window.
func ValidSlot(s Slot) bool {
	switch s {
	case SlotMorning, SlotAfternoon, SlotEvening:
		return true
	}
	return false
}

// Device is the persisted identity of a dispenser unit. Runtime state
// (last reported hardware snapshot, pending command queue) lives in the
// statestore, not here.
type Device struct {
	DeviceID   string    `json:"device_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	IPAddress  string    `json:"ip_address"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Active     bool      `json:"active"`
}

// Online derives liveness from the last heartbeat. A device is online while
// it has been seen within twice the heartbeat interval.
func (d Device) Online(now time.Time, heartbeatInterval time.Duration) bool {
	return now.Sub(d.LastSeenAt) < 2*heartbeatInterval
}

// ReportedState is the hardware snapshot a device sends with each state
// report. The shape round-trips exactly through the state endpoint.
type ReportedState struct {
	ServoAngles      []int   `json:"servo_angles"`
	Distance         float64 `json:"distance"`
	LedOn            bool    `json:"led_on"`
	BuzzerOn         bool    `json:"buzzer_on"`
	CurrentOperation string  `json:"current_operation"`
}

// Medicine is one prescribed medicine as produced by the (external)
// prescription pipeline. Compartment stays nil until the owner assigns a
// physical compartment; no schedules are generated before that.
type Medicine struct {
	ID            int64     `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Dosage        string    `json:"dosage"`
	FrequencySpec string    `json:"frequency_spec"`
	Compartment   *int      `json:"compartment,omitempty"`
	StartDate     time.Time `json:"start_date"`
	DurationDays  int       `json:"duration_days"`
	Instructions  string    `json:"instructions,omitempty"`
	Active        bool      `json:"active"`
}

type ScheduleStatus string

func (s ScheduleStatus) String() string {
	return string(s)
}

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleDispatched ScheduleStatus = "dispatched"
	ScheduleTaken      ScheduleStatus = "taken"
	ScheduleSkipped    ScheduleStatus = "skipped"
)

// Schedule is a single dispense slot for a medicine on a given day.
// Status only ever moves forward: pending -> dispatched -> taken|skipped.
type Schedule struct {
	ID           int64          `json:"id"`
	MedicineID   int64          `json:"medicine_id"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	DoseCount    int            `json:"dose_count"`
	Status       ScheduleStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	TakenAt      *time.Time     `json:"taken_at,omitempty"`
	SkipReason   string         `json:"skip_reason,omitempty"`
}

// Resolved reports whether the schedule has reached a terminal status.
func (s Schedule) Resolved() bool {
	return s.Status == ScheduleTaken || s.Status == ScheduleSkipped
}
