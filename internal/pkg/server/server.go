package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pharmabot/dispenser-controller/internal/pkg/database"
	"github.com/pharmabot/dispenser-controller/internal/pkg/dispense"
	"github.com/pharmabot/dispenser-controller/internal/pkg/frequency"
	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
	"github.com/pharmabot/dispenser-controller/internal/pkg/registry"
	"github.com/pharmabot/dispenser-controller/internal/pkg/schedule"
)

type deviceRegistry interface {
	Register(ctx context.Context, deviceID, name, ip, ownerID string) (model.Device, string, error)
	Heartbeat(ctx context.Context, deviceID string) error
	Get(ctx context.Context, deviceID string) (model.Device, error)
	Online(device model.Device, now time.Time) bool
	Deactivate(ctx context.Context, deviceID string) error
}

type states interface {
	ReportState(deviceID string, state model.ReportedState) error
	Drain(deviceID string) ([]model.Command, error)
	Snapshot(deviceID string) (model.ReportedState, []model.Command, error)
}

type confirmer interface {
	Confirm(ctx context.Context, scheduleID int64) error
	OverrideTaken(ctx context.Context, scheduleID int64) error
	OverrideSkipped(ctx context.Context, scheduleID int64, reason string) error
}

type manualDispenser interface {
	Dispense(ctx context.Context, medicineID int64, slot model.Slot) (model.Command, error)
}

type generator interface {
	RegenerateFrom(ctx context.Context, medicine model.Medicine, fromDate time.Time) error
}

type db interface {
	InsertMedicine(ctx context.Context, med model.Medicine) (int64, error)
	GetMedicine(ctx context.Context, medicineID int64) (model.Medicine, error)
	SetCompartment(ctx context.Context, medicineID int64, compartment int) error
	SchedulesForMedicine(ctx context.Context, medicineID int64) ([]model.Schedule, error)
	ScheduleCounts(ctx context.Context, ownerID string, from, to time.Time) (int, int, error)
	DevicesForOwner(ctx context.Context, ownerID string) ([]model.Device, error)
	EventsForOwner(ctx context.Context, ownerID string, limit int) ([]publisher.Event, error)
}

type server struct {
	registry  deviceRegistry
	states    states
	confirmer confirmer
	manual    manualDispenser
	generator generator
	db        db
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

func New(reg deviceRegistry, states states, confirmer confirmer, manual manualDispenser, generator generator, db db, loc *time.Location) *server {
	return &server{
		registry:  reg,
		states:    states,
		confirmer: confirmer,
		manual:    manual,
		generator: generator,
		db:        db,
		loc:       loc,
		logger:    zap.L(),
		now:       time.Now,
	}
}

// Router wires the device-facing and owner-facing API surfaces.
func (s *server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(LoggingMiddleware)

	// Device-facing: registration, heartbeat, state reports, command
	// polling and dispense confirmations.
	api.HandleFunc("/device/register", s.registerDevice).Methods(http.MethodPost)
	api.HandleFunc("/device/heartbeat", s.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/device/state", s.reportState).Methods(http.MethodPost)
	api.HandleFunc("/device/commands", s.pollCommands).Methods(http.MethodGet)
	api.HandleFunc("/device/dispense-confirm", s.confirmDispense).Methods(http.MethodPost)
	api.HandleFunc("/device/{deviceID}", s.deviceSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/device/{deviceID}", s.deactivateDevice).Methods(http.MethodDelete)

	// Owner-facing: the prescription pipeline feeds medicines in here;
	// everything else is dashboard/manual control.
	api.HandleFunc("/medicine", s.createMedicines).Methods(http.MethodPost)
	api.HandleFunc("/medicine/{medicineID}/compartment", s.assignCompartment).Methods(http.MethodPost)
	api.HandleFunc("/medicine/{medicineID}/dispense", s.manualDispense).Methods(http.MethodPost)
	api.HandleFunc("/medicine/{medicineID}/schedules", s.listSchedules).Methods(http.MethodGet)
	api.HandleFunc("/schedule/{scheduleID}/mark-taken", s.markTaken).Methods(http.MethodPost)
	api.HandleFunc("/schedule/{scheduleID}/mark-skipped", s.markSkipped).Methods(http.MethodPost)
	api.HandleFunc("/dashboard/stats", s.dashboardStats).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/events", s.dashboardEvents).Methods(http.MethodGet)

	return r
}

func (s *server) registerDevice(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[registerDeviceRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.DeviceID == "" || req.Name == "" || req.OwnerID == "" {
		s.writeError(w, &dispense.ValidationError{Reason: "device_id, name and owner_id are required"})
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = r.RemoteAddr
	}
	device, token, err := s.registry.Register(r.Context(), req.DeviceID, req.Name, ip, req.OwnerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, registerDeviceResponse{Device: device, Token: token})
}

func (s *server) heartbeat(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[heartbeatRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.registry.Heartbeat(r.Context(), req.DeviceID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) reportState(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[stateReportRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.states.ReportState(req.DeviceID, req.reportedState()); err != nil {
		s.writeError(w, err)
		return
	}
	// A state report is also proof of life.
	if err := s.registry.Heartbeat(r.Context(), req.DeviceID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) pollCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		s.writeError(w, &dispense.ValidationError{Reason: "device_id query parameter is required"})
		return
	}

	commands, err := s.states.Drain(deviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if commands == nil {
		commands = []model.Command{}
	}
	s.writeJSON(w, http.StatusOK, commandsResponse{Commands: commands})
}

func (s *server) confirmDispense(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[confirmRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.registry.Get(r.Context(), req.DeviceID); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.confirmer.Confirm(r.Context(), req.ScheduleID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) deviceSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	device, err := s.registry.Get(r.Context(), deviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	state, pending, err := s.states.Snapshot(deviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, deviceSnapshotResponse{
		Device:        device,
		Online:        s.registry.Online(device, s.now()),
		ReportedState: state,
		QueueDepth:    len(pending),
	})
}

func (s *server) deactivateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]
	if err := s.registry.Deactivate(r.Context(), deviceID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) createMedicines(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[createMedicinesRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.OwnerID == "" || len(req.Medicines) == 0 {
		s.writeError(w, &dispense.ValidationError{Reason: "owner_id and at least one medicine are required"})
		return
	}

	startDate := s.dayStart(s.now())
	if req.StartDate != nil {
		startDate = s.dayStart(*req.StartDate)
	}

	results := make([]medicineResult, 0, len(req.Medicines))
	for _, input := range req.Medicines {
		results = append(results, s.createMedicine(r.Context(), req.OwnerID, startDate, input))
	}
	s.writeJSON(w, http.StatusCreated, createMedicinesResponse{Results: results})
}

// createMedicine stores one medicine and generates its schedules when a
// compartment is already known. Failures are reported per medicine so one
// bad record never sinks the rest of the prescription.
func (s *server) createMedicine(ctx context.Context, ownerID string, startDate time.Time, input medicineInput) medicineResult {
	result := medicineResult{Name: input.Name}

	// Reject unparseable frequencies up front: a stored medicine whose
	// schedules can never generate helps nobody.
	if _, err := frequency.Parse(input.FrequencySpec); err != nil {
		result.Error = err.Error()
		return result
	}

	durationDays := input.DurationDays
	if durationDays <= 0 {
		durationDays = 7
	}

	med := model.Medicine{
		OwnerID:       ownerID,
		Name:          input.Name,
		Dosage:        input.Dosage,
		FrequencySpec: input.FrequencySpec,
		Compartment:   input.Compartment,
		StartDate:     startDate,
		DurationDays:  durationDays,
		Instructions:  input.Instructions,
		Active:        true,
	}

	id, err := s.db.InsertMedicine(ctx, med)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.MedicineID = id
	med.ID = id

	if med.Compartment == nil {
		// Stored but not schedulable until the owner assigns a compartment.
		return result
	}

	if err := s.generator.RegenerateFrom(ctx, med, startDate); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Scheduled = true
	return result
}

func (s *server) assignCompartment(w http.ResponseWriter, r *http.Request) {
	medicineID, err := pathID(r, "medicineID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := unmarshalPayload[assignCompartmentRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Compartment < 1 {
		s.writeError(w, &dispense.ValidationError{Reason: "compartment must be >= 1"})
		return
	}

	if err := s.db.SetCompartment(r.Context(), medicineID, req.Compartment); err != nil {
		s.writeError(w, err)
		return
	}

	med, err := s.db.GetMedicine(r.Context(), medicineID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.generator.RegenerateFrom(r.Context(), med, s.dayStart(s.now())); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) manualDispense(w http.ResponseWriter, r *http.Request) {
	medicineID, err := pathID(r, "medicineID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := unmarshalPayload[manualDispenseRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cmd, err := s.manual.Dispense(r.Context(), medicineID, model.Slot(req.Slot))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, manualDispenseResponse{Accepted: true, Command: cmd})
}

func (s *server) listSchedules(w http.ResponseWriter, r *http.Request) {
	medicineID, err := pathID(r, "medicineID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	schedules, err := s.db.SchedulesForMedicine(r.Context(), medicineID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]model.Schedule{"schedules": schedules})
}

func (s *server) markTaken(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := pathID(r, "scheduleID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.confirmer.OverrideTaken(r.Context(), scheduleID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) markSkipped(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := pathID(r, "scheduleID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := unmarshalPayload[skipRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "skipped by owner"
	}
	if err := s.confirmer.OverrideSkipped(r.Context(), scheduleID, reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		s.writeError(w, &dispense.ValidationError{Reason: "owner_id query parameter is required"})
		return
	}

	now := s.now()
	dayStart := s.dayStart(now)
	total, taken, err := s.db.ScheduleCounts(r.Context(), ownerID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		s.writeError(w, err)
		return
	}

	devices, err := s.db.DevicesForOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	online := 0
	for _, d := range devices {
		if s.registry.Online(d, now) {
			online++
		}
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		TodayTotal:    total,
		TodayTaken:    taken,
		DevicesOnline: online,
	})
}

func (s *server) dashboardEvents(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		s.writeError(w, &dispense.ValidationError{Reason: "owner_id query parameter is required"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, &dispense.ValidationError{Reason: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := s.db.EventsForOwner(r.Context(), ownerID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []publisher.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]publisher.Event{"events": events})
}

func (s *server) dayStart(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, &dispense.ValidationError{Reason: name + " must be an integer"}
	}
	return id, nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	validationErr := &dispense.ValidationError{}
	parseErr := &frequency.ParseError{}
	switch {
	case errors.Is(err, model.ErrUnknownDevice), errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &validationErr),
		errors.As(err, &parseErr),
		errors.Is(err, schedule.ErrCompartmentUnassigned):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNoOnlineDevice):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &dispense.ValidationError{Reason: "invalid JSON payload: " + err.Error()}
	}
	return &out, nil
}
