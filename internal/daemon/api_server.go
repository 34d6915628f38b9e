package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"meetingflow/internal/config"
	"meetingflow/internal/entities"
	"meetingflow/internal/logging"
	"meetingflow/internal/services"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
	"meetingflow/internal/tasks"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/recordings", s.handleRecordings)
		r.Get("/recordings/{fingerprint}", s.handleRecording)
		r.Post("/recordings/{fingerprint}/retry", s.handleRetry)
		r.Get("/tasks", s.handleTasks)
		r.Patch("/tasks/{id}", s.handleTaskStatus)
		r.Get("/entities", s.handleEntities)
		r.Put("/entities/{id}/relationship", s.handleRelationship)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	var filter state.Filter
	for _, value := range r.URL.Query()["stage"] {
		stage, ok := state.ParseStage(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown stage "+value)
			return
		}
		filter.Stages = append(filter.Stages, stage)
	}
	items, err := s.daemon.tracker.List(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if items == nil {
		items = []state.ProcessingState{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recordings": items})
}

func (s *apiServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	st, err := s.daemon.tracker.Get(r.Context(), fp)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if st == nil {
		s.writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	st, err := s.daemon.tracker.Get(r.Context(), fp)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if st == nil {
		s.writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	if st.Stage != state.StageFailed {
		s.writeError(w, http.StatusConflict, "recording is not failed")
		return
	}
	n, err := s.daemon.RetryFailed(r.Context(), []string{fp})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"reset": n})
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	var filter store.TaskFilter
	for _, value := range r.URL.Query()["status"] {
		status, ok := tasks.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+value)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	filter.Fingerprint = strings.TrimSpace(r.URL.Query().Get("fingerprint"))
	filter.Assignee = strings.TrimSpace(r.URL.Query().Get("assignee"))
	list, err := s.daemon.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []tasks.Task{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *apiServer) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, ok := tasks.ParseStatus(req.Status)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	task, err := s.daemon.store.UpdateTaskStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *apiServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	var kind entities.Type
	if value := strings.TrimSpace(r.URL.Query().Get("type")); value != "" {
		parsed, ok := entities.ParseType(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown entity type "+value)
			return
		}
		kind = parsed
	}
	list, err := s.daemon.store.ListEntities(r.Context(), kind)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []entities.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": list})
}

type relationshipRequest struct {
	Relationship string `json:"relationship"`
}

func (s *apiServer) handleRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := s.daemon.resolver.OverrideRelationship(r.Context(), chi.URLParam(r, "id"), req.Relationship)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// writeFailure maps error markers onto status codes.
func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrStateConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.log().Warn("api request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
