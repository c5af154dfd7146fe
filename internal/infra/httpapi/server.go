// internal/infra/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"letter_outreach_bot/internal/app"
	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Approvals is the approval side of the application used by the API.
type Approvals interface {
	Decide(ctx context.Context, req app.DecisionRequest) (*approval.ApprovalData, error)
	Get(id approval.ApprovalID) (*approval.ApprovalData, error)
	List(state approval.State) ([]*approval.ApprovalData, error)
	Health() (approval.HealthReport, error)
}

// Triggers is the batch side of the application used by the API.
type Triggers interface {
	Submit(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error)
	Get(id approval.TriggerID) (*approval.WorkflowTrigger, error)
}

// Server exposes trigger submission, decisions, state queries, health and metrics over HTTP.
type Server struct {
	approvals Approvals
	triggers  Triggers
	metrics   http.Handler
	logger    *logrus.Entry
	srv       *http.Server
}

func NewServer(addr string, approvals Approvals, triggers Triggers, metrics http.Handler) *Server {
	s := &Server{
		approvals: approvals,
		triggers:  triggers,
		metrics:   metrics,
		logger:    logger.Component("httpapi"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/triggers", s.submitTrigger).Methods(http.MethodPost)
	api.HandleFunc("/triggers/{id}", s.getTrigger).Methods(http.MethodGet)
	api.HandleFunc("/approvals", s.listApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}", s.getApproval).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/decision", s.decide).Methods(http.MethodPost)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.srv.Addr).Info("HTTP API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type triggerRequest struct {
	RequestedBy int64 `json:"requested_by"`
	MaxTasks    int   `json:"max_tasks"`
	DryRun      bool  `json:"dry_run"`
}

func (s *Server) submitTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid trigger request"))
		return
	}
	id, err := s.triggers.Submit(r.Context(), approval.UserID(req.RequestedBy), req.MaxTasks, req.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"trigger_id": id.String()})
}

func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := approval.ParseTriggerID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid trigger id"))
		return
	}
	t, err := s.triggers.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
	UserID   int64  `json:"user_id"`
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	id, err := approval.ParseApprovalID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid approval id"))
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid decision request"))
		return
	}
	data, err := s.approvals.Decide(r.Context(), app.DecisionRequest{
		ApprovalID: id,
		Decision:   app.Decision(req.Decision),
		Feedback:   req.Feedback,
		UserID:     approval.UserID(req.UserID),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approval.ParseApprovalID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid approval id"))
		return
	}
	data, err := s.approvals.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	state, err := approval.ParseState(r.URL.Query().Get("state"))
	if err != nil {
		s.writeError(w, apperror.Wrap(apperror.KindValidation, err, "invalid state"))
		return
	}
	records, err := s.approvals.List(state)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*approval.ApprovalData{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	report, err := s.approvals.Health()
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if report.Status == approval.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, approval.ErrTriggerNotFound),
		apperror.Is(err, apperror.KindNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidTransition):
		return http.StatusConflict
	case apperror.Is(err, apperror.KindValidation):
		return http.StatusBadRequest
	case apperror.Is(err, apperror.KindServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
