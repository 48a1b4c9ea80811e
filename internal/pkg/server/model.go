package server

import (
	"time"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

type registerDeviceRequest struct {
	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	OwnerID   string `json:"owner_id"`
}

type registerDeviceResponse struct {
	Device model.Device `json:"device"`
	Token  string       `json:"token"`
}

type heartbeatRequest struct {
	DeviceID string `json:"device_id"`
}

type stateReportRequest struct {
	DeviceID         string  `json:"device_id"`
	ServoAngles      []int   `json:"servo_angles"`
	Distance         float64 `json:"distance"`
	LedOn            bool    `json:"led_on"`
	BuzzerOn         bool    `json:"buzzer_on"`
	CurrentOperation string  `json:"current_operation"`
}

func (r stateReportRequest) reportedState() model.ReportedState {
	return model.ReportedState{
		ServoAngles:      r.ServoAngles,
		Distance:         r.Distance,
		LedOn:            r.LedOn,
		BuzzerOn:         r.BuzzerOn,
		CurrentOperation: r.CurrentOperation,
	}
}

type commandsResponse struct {
	Commands []model.Command `json:"commands"`
}

type confirmRequest struct {
	DeviceID   string `json:"device_id"`
	ScheduleID int64  `json:"schedule_id"`
}

type deviceSnapshotResponse struct {
	Device        model.Device        `json:"device"`
	Online        bool                `json:"online"`
	ReportedState model.ReportedState `json:"reported_state"`
	QueueDepth    int                 `json:"queue_depth"`
}

// medicineInput matches one record from the (external) prescription
// pipeline's parser output.
type medicineInput struct {
	Name          string `json:"name"`
	Dosage        string `json:"dosage"`
	FrequencySpec string `json:"frequency_spec"`
	DurationDays  int    `json:"duration_days"`
	Instructions  string `json:"instructions"`
	Compartment   *int   `json:"compartment,omitempty"`
}

type createMedicinesRequest struct {
	OwnerID   string          `json:"owner_id"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	Medicines []medicineInput `json:"medicines"`
}

// medicineResult reports the outcome per medicine: a failure on one never
// aborts the rest of the batch.
type medicineResult struct {
	MedicineID int64  `json:"medicine_id,omitempty"`
	Name       string `json:"name"`
	Scheduled  bool   `json:"scheduled"`
	Error      string `json:"error,omitempty"`
}

type createMedicinesResponse struct {
	Results []medicineResult `json:"results"`
}

type assignCompartmentRequest struct {
	Compartment int `json:"compartment"`
}

type manualDispenseRequest struct {
	Slot string `json:"slot"`
}

type manualDispenseResponse struct {
	Accepted bool          `json:"accepted"`
	Command  model.Command `json:"command"`
}

type skipRequest struct {
	Reason string `json:"reason"`
}

type statsResponse struct {
	TodayTotal    int `json:"today_total"`
	TodayTaken    int `json:"today_taken"`
	DevicesOnline int `json:"devices_online"`
}

type errorResponse struct {
	Error string `json:"error"`
}
