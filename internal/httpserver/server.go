package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/plantpulse/insight-engine/internal/engine"
	"github.com/plantpulse/insight-engine/internal/lifecycle"
	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/oee"
	"github.com/plantpulse/insight-engine/internal/queue"
	"github.com/plantpulse/insight-engine/internal/store"
)

// Enqueuer defers insight generation to a worker. Nil means inline execution.
type Enqueuer interface {
	EnqueueRecordSaved(ctx context.Context, job queue.RecordSavedJob) error
}

type Server struct {
	engine    *engine.Engine
	lifecycle *lifecycle.Manager
	store     store.Store
	queue     Enqueuer
}

func New(eng *engine.Engine, lc *lifecycle.Manager, st store.Store, q Enqueuer) *Server {
	return &Server{
		engine:    eng,
		lifecycle: lc,
		store:     st,
		queue:     q,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/machines", s.handleCreateMachine)
	r.Get("/machines/{id}", s.handleGetMachine)
	r.Post("/records", s.handleCreateRecord)
	r.Get("/insights", s.handleListInsights)
	r.Post("/insights/{id}/apply", s.handleApplyInsight)
	r.Post("/insights/{id}/dismiss", s.handleDismissInsight)
	r.Get("/healthz", s.handleHealthz)

	return r
}

type createMachineRequest struct {
	Name         string               `json:"name"`
	Capacity     float64              `json:"capacity"`
	CapacityUnit string               `json:"capacityUnit"`
	Status       models.MachineStatus `json:"status"`
	Location     string               `json:"location"`
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var req createMachineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.Capacity < 0 {
		respondError(w, http.StatusBadRequest, "capacity must not be negative")
		return
	}
	if req.Status == "" {
		req.Status = models.MachineStatusActive
	}

	machine, err := s.store.InsertMachine(r.Context(), store.MachineInput{
		Name:         req.Name,
		Capacity:     req.Capacity,
		CapacityUnit: req.CapacityUnit,
		Status:       req.Status,
		Location:     req.Location,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The machine is committed; onboarding insights are best-effort.
	insights, err := s.engine.OnMachineCreated(r.Context(), machine)
	if err != nil {
		log.Printf("onboarding insights for machine %s degraded: %v", machine.ID, err)
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"machine":  machine,
		"insights": insights,
	})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	machine, err := s.store.GetMachine(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "machine not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, machine)
}

type createRecordRequest struct {
	MachineID        uuid.UUID              `json:"machineId"`
	Shift            string                 `json:"shift"`
	StartTime        time.Time              `json:"startTime"`
	EndTime          time.Time              `json:"endTime"`
	Material         string                 `json:"material"`
	GoodProduction   int                    `json:"goodProduction"`
	WasteFilm        int                    `json:"wasteFilm"`
	WasteOrganic     float64                `json:"wasteOrganic"`
	ProductionTarget int                    `json:"productionTarget"`
	PlannedTime      int                    `json:"plannedTime"`
	Downtime         []models.DowntimeEntry `json:"downtime"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MachineID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "machineId required")
		return
	}
	if !req.EndTime.After(req.StartTime) {
		respondError(w, http.StatusBadRequest, "endTime must be after startTime")
		return
	}
	if req.PlannedTime < 0 {
		respondError(w, http.StatusBadRequest, "plannedTime must not be negative")
		return
	}

	machine, err := s.store.GetMachine(r.Context(), req.MachineID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "machine not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, err := s.store.InsertShiftRecord(r.Context(), store.ShiftRecordInput{
		MachineID:        req.MachineID,
		Shift:            req.Shift,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Material:         req.Material,
		GoodProduction:   req.GoodProduction,
		WasteFilm:        req.WasteFilm,
		WasteOrganic:     req.WasteOrganic,
		ProductionTarget: req.ProductionTarget,
		PlannedTime:      req.PlannedTime,
		Downtime:         req.Downtime,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// From here on the save has succeeded; insight generation must not
	// fail the response.
	if s.queue != nil {
		job := queue.RecordSavedJob{RecordID: rec.ID, MachineID: machine.ID}
		if err := s.queue.EnqueueRecordSaved(r.Context(), job); err != nil {
			log.Printf("enqueue record %s: %v", rec.ID, err)
		}
	} else {
		if _, err := s.engine.OnProductionRecordSaved(r.Context(), rec, machine); err != nil {
			log.Printf("insight generation for record %s degraded: %v", rec.ID, err)
		}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"record":  rec,
		"metrics": oee.Compute(rec, machine.Capacity).Clamped(),
	})
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	var f store.InsightFilter

	if raw := r.URL.Query().Get("machineId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid machineId")
			return
		}
		f.MachineID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.InsightStatus(raw)
		f.Status = &status
	}
	f.Limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	insights, err := s.engine.ListInsights(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if insights == nil {
		insights = []models.Insight{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

type actionRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleApplyInsight(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.lifecycle.Apply)
}

func (s *Server) handleDismissInsight(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.lifecycle.Dismiss)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID, string) (models.Insight, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid insight id")
		return
	}
	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "userId required")
		return
	}

	ins, err := action(r.Context(), id, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "insight not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ins)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
