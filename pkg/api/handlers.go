package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/connector"
	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/safety"
)

// maxBodyBytes bounds request bodies before decoding.
const maxBodyBytes = 1 << 20

// Server exposes the orchestration core over HTTP. It is deliberately
// thin: every request flows validate -> gate -> store, with no business
// logic of its own.
type Server struct {
	validator     *envelope.Validator
	gateway       *safety.Gateway
	store         jobs.Store
	registrations *connector.RegistrationStore
	lease         time.Duration
	logger        *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithClaimLease sets the lease granted to claims made over the API.
func WithClaimLease(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the API server.
func NewServer(validator *envelope.Validator, gateway *safety.Gateway, store jobs.Store, registrations *connector.RegistrationStore, opts ...ServerOption) *Server {
	s := &Server{
		validator:     validator,
		gateway:       gateway,
		store:         store,
		registrations: registrations,
		lease:         jobs.DefaultLease,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/commands", s.handleSubmitCommand)
	mux.HandleFunc("POST /v1/jobs/claim", s.handleClaimJob)
	mux.HandleFunc("POST /v1/jobs/{id}/result", s.handleReportResult)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/sessions/{id}/jobs", s.handleListSessionJobs)
	mux.HandleFunc("POST /v1/connectors", s.handleCreateConnector)
	mux.HandleFunc("GET /v1/connectors", s.handleListConnectors)
	mux.HandleFunc("PATCH /v1/connectors/{id}/status", s.handleUpdateConnectorStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "failed to read request body")
		return nil, false
	}
	return body, true
}

// handleSubmitCommand admits a command envelope into the system. The
// safety gateway is the only path to job creation: validation failures
// are 400, denials 403, and only an explicit allow reaches the store.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	env, result := s.validator.ValidateCommand(body)
	if !result.Valid {
		s.writeValidationFailure(w, result)
		return
	}

	assessment, err := s.gateway.Admit(r.Context(), env)
	if err != nil {
		s.logger.Warn("command refused",
			"org_id", env.OrgID,
			"command_type", env.CommandType,
			"error", err)
		WriteDomainError(w, err)
		return
	}

	jobID, err := s.store.Enqueue(r.Context(), env)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	s.logger.Info("command accepted",
		"org_id", env.OrgID,
		"command_type", env.CommandType,
		"job_id", jobID,
		"content_hash", result.Hash)

	writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":          jobID,
		"contentHash":    result.Hash,
		"contentFilters": assessment.ContentFilters,
	})
}

// handleClaimJob hands the next eligible job to a polling worker, or 204
// when the queue is empty for its role.
func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	claim, result := s.validator.ValidateClaim(body)
	if !result.Valid {
		s.writeValidationFailure(w, result)
		return
	}

	job, err := s.store.Claim(r.Context(), claim.WorkerRole, claim.WorkerID, s.lease)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleReportResult lands a worker's terminal result. Duplicate reports
// against a terminal job return 409 and leave the stored result intact.
func (s *Server) handleReportResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	report, result := s.validator.ValidateResult(body)
	if !result.Valid {
		s.writeValidationFailure(w, result)
		return
	}

	err := s.store.ReportResult(r.Context(), jobID, jobs.Result{
		Status:   jobs.Status(report.Status),
		Payload:  report.Result,
		Error:    report.Error,
		Metadata: report.Metadata,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": report.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListSessionJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListForSession(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	reg, result := s.validator.ValidateRegistration(body)
	if !result.Valid {
		s.writeValidationFailure(w, result)
		return
	}

	id, err := s.registrations.Create(r.Context(), reg)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		WriteBadRequest(w, "query parameter orgId is required")
		return
	}

	list, err := s.registrations.ListByOrg(r.Context(), orgID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if list == nil {
		list = []*envelope.ConnectorRegistration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": list})
}

func (s *Server) handleUpdateConnectorStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status envelope.RegistrationStatus `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "request body must be valid JSON")
		return
	}
	if !req.Status.Valid() {
		WriteBadRequest(w, "unknown registration status")
		return
	}

	if err := s.registrations.UpdateStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		if errors.Is(err, connector.ErrRegistrationNotFound) {
			WriteNotFound(w, err.Error())
			return
		}
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "status": string(req.Status)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeValidationFailure(w http.ResponseWriter, result *envelope.ValidationResult) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://conductor.cleargrid.dev/errors/400",
		"title":  "Validation Failed",
		"status": http.StatusBadRequest,
		"errors": result.Errors,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
