package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/simulation"
)

// Handler exposes the runner over HTTP.
type Handler struct {
	runner *Runner
	log    *slog.Logger
}

func NewHandler(runner *Runner, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{runner: runner, log: log}
}

// RegisterRoutes mounts the run API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		api.Post("/runs", h.handleCreateRun)
		api.Get("/runs", h.handleListRuns)
		api.Get("/runs/{run_id}", h.handleGetRun)
		api.Get("/runs/{run_id}/summary", h.handleSummary)
		api.Post("/runs/{run_id}/cancel", h.handleCancelRun)
		api.Delete("/runs/{run_id}", h.handleDeleteRun)
		api.Get("/runs/{run_id}/days/{day}", h.handleObservations)
	})
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	// Absent fields keep their defaults, so an empty body starts a run
	// with the standard parameterization.
	req := CreateRunRequest{Config: simulation.DefaultConfig()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	record, err := h.runner.StartRun(req.Config)
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("starting run", "err", err)
		http.Error(w, fmt.Sprintf("Failed to start run: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(record)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := h.runner.List()
	if err != nil {
		h.log.Error("listing runs", "err", err)
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(&RunListResponse{Runs: records})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	record, err := h.runner.Status(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error("loading run", "run", id.String(), "err", err)
		http.Error(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(record)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	record, err := h.runner.Status(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error("loading run", "run", id.String(), "err", err)
		http.Error(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	if record.Summary == nil {
		http.Error(w, fmt.Sprintf("Run %s is %s, no summary available", id, record.State), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(record.Summary)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrRunNotActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.log.Error("cancelling run", "run", id.String(), "err", err)
			http.Error(w, fmt.Sprintf("Failed to cancel run: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Run cancellation requested",
	})
}

func (h *Handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	if err := h.runner.Delete(id); err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrRunActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.log.Error("deleting run", "run", id.String(), "err", err)
			http.Error(w, fmt.Sprintf("Failed to delete run: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Run deleted",
	})
}

func (h *Handler) handleObservations(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 0 {
		http.Error(w, "Invalid day", http.StatusBadRequest)
		return
	}

	obs, err := h.runner.Observations(id, protocol.Day(day))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error("loading observations", "run", id.String(), "day", day, "err", err)
		http.Error(w, fmt.Sprintf("Failed to load observations: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(obs)
}
