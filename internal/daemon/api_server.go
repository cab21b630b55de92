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

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/pipeline"
	"clipflow/internal/records"
	"clipflow/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("paths.api_bind must be set")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/avatar/{family}", srv.handleAvatarWebhook)
	mux.HandleFunc("POST /webhooks/enhancer/{family}", srv.handleEnhancerWebhook)
	mux.HandleFunc("POST /api/workflows", authMiddleware(token, srv.handleStartWorkflow))
	mux.HandleFunc("GET /api/workflows", authMiddleware(token, srv.handleListWorkflows))
	mux.HandleFunc("GET /api/workflows/{id}", authMiddleware(token, srv.handleGetWorkflow))
	mux.HandleFunc("GET /api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("POST /api/reconcile", authMiddleware(cfg.Workflow.ReconcileSecret, srv.handleReconcile))
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.Paths.MediaDir))))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

type startWorkflowRequest struct {
	Family       string   `json:"family"`
	WorkflowID   string   `json:"workflowId,omitempty"`
	Platforms    []string `json:"platforms,omitempty"`
	ScheduleMode string   `json:"scheduleMode,omitempty"`
}

func (s *apiServer) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.daemon.pipeline.Start(r.Context(), pipeline.StartRequest{
		Family:       req.Family,
		WorkflowID:   req.WorkflowID,
		Platforms:    req.Platforms,
		ScheduleMode: req.ScheduleMode,
	})
	switch {
	case errors.Is(err, services.ErrNoContent):
		writeError(w, http.StatusConflict, "no unprocessed articles available")
	case errors.Is(err, services.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrContentTooShort):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil && record == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		// A failed submission still created a record; report it with its state.
		writeJSON(w, http.StatusAccepted, recordView(record))
	}
}

func (s *apiServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	var statuses []records.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := records.ParseStatus(value)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
	}

	list, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]map[string]any, 0, len(list))
	for _, record := range list {
		views = append(views, recordView(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": views})
}

func (s *apiServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	record, err := s.daemon.store.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, records.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recordView(record))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	health := s.daemon.store.Health(r.Context())

	byStatus := make(map[string]int64, len(status.Stats.ByStatus))
	for key, count := range status.Stats.ByStatus {
		byStatus[string(key)] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"running":  status.Running,
		"total":    status.Stats.Total,
		"byStatus": byStatus,
		"database": map[string]any{
			"path":     health.DBPath,
			"readable": health.DatabaseReadable,
			"schema":   health.SchemaVersion,
			"error":    health.Error,
		},
	})
}

func (s *apiServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.reconciler.Reconcile(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skipped":         report.Skipped,
		"found":           report.Found,
		"advanced":        report.Advanced,
		"failed":          report.Failed,
		"stillProcessing": report.StillProcessing,
		"skippedByCap":    report.SkippedByCap,
		"pendingStarted":  report.PendingStarted,
		"postingRetried":  report.PostingRetried,
		"recovered":       report.Recovered,
		"errors":          report.Errors,
		"durationMs":      report.Duration.Milliseconds(),
	})
}

func recordView(record *records.Record) map[string]any {
	view := map[string]any{
		"id":         record.ID,
		"family":     record.Family,
		"status":     string(record.Status),
		"title":      record.Title,
		"retryCount": record.RetryCount,
		"createdAt":  record.CreatedAt.Format(time.RFC3339),
		"updatedAt":  record.UpdatedAt.Format(time.RFC3339),
	}
	if record.AvatarJobID != "" {
		view["avatarJobId"] = record.AvatarJobID
	}
	if record.EnhancerProjectID != "" {
		view["enhancerProjectId"] = record.EnhancerProjectID
	}
	if record.FinalMediaURL != "" {
		view["finalMediaUrl"] = record.FinalMediaURL
	}
	if record.PostID != "" {
		view["postId"] = record.PostID
	}
	if record.ErrorMessage != "" {
		view["error"] = record.ErrorMessage
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
