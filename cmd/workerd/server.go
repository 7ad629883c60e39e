package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cmdworker/internal/jobpool"
	"cmdworker/internal/tlsconfig"
	"cmdworker/pkg/api"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	registry   *jobpool.Registry
	logger     *slog.Logger
	cfg        *config
	httpServer *http.Server
}

func newServer(
	registry *jobpool.Registry,
	logger *slog.Logger,
	cfg *config,
) *server {
	return &server{registry: registry, logger: logger, cfg: cfg}
}

func (s *server) start(listener net.Listener) error {
	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   s.cfg.serverCertPath,
		KeyPath:    s.cfg.serverKeyPath,
		CACertPath: s.cfg.caCertPath,
		Server:     true,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}/status", s.handleJobStatus)
	mux.HandleFunc("GET /jobs/{id}/output", s.handleJobOutput)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)

	s.httpServer = &http.Server{
		Handler:   s.withIdentity(s.withRequestLog(mux)),
		TLSConfig: tlsConfig,
		ErrorLog:  slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	if err := s.httpServer.ServeTLS(listener, "", ""); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *server) shutdown() {
	if s.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown http server", "err", err)
	}
}

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Command == "" {
		s.httpError(w, http.StatusBadRequest, "command is empty")
		return
	}

	id := s.pool(r).Submit(req.Command, req.Args)

	s.respondJSON(w, http.StatusCreated, api.SubmitJobResponse{ID: id})
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	summaries := s.pool(r).List()

	jobs := make([]api.JobSummary, 0, len(summaries))
	for _, summary := range summaries {
		jobs = append(jobs, api.JobSummary{
			ID:      summary.ID,
			Command: summary.Command,
			Args:    summary.Args,
		})
	}

	s.respondJSON(w, http.StatusOK, jobs)
}

func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		s.httpError(w, http.StatusNotFound, jobpool.ErrJobNotFound.Error())
		return
	}

	status, err := s.pool(r).Status(id)
	if err != nil {
		s.mapError(w, r, "query job status", err)
		return
	}

	s.respondJSON(w, http.StatusOK, api.JobStatusResponse{
		State:    status.State.String(),
		ExitCode: status.ExitCode,
		Message:  status.Message,
	})
}

func (s *server) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		s.httpError(w, http.StatusNotFound, jobpool.ErrJobNotFound.Error())
		return
	}

	stdout, stderr, err := s.pool(r).Output(id)
	if err != nil {
		s.mapError(w, r, "query job output", err)
		return
	}

	s.respondJSON(w, http.StatusOK, api.JobOutputResponse{
		Stdout: string(stdout),
		Stderr: string(stderr),
	})
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		s.httpError(w, http.StatusNotFound, jobpool.ErrJobNotFound.Error())
		return
	}

	if err := s.pool(r).Delete(id); err != nil {
		s.mapError(w, r, "delete job", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pool resolves the job pool owned by the request's authenticated identity.
func (s *server) pool(r *http.Request) *jobpool.Pool {
	return s.registry.Resolve(identityFromContext(r.Context()))
}

// jobID parses the id path segment. A malformed id can never name a job, so
// callers treat failure as not-found.
func jobID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// mapError translates jobpool errors to HTTP responses.
func (s *server) mapError(
	w http.ResponseWriter,
	r *http.Request,
	logMsg string,
	err error,
) {
	switch {
	case errors.Is(err, jobpool.ErrJobNotFound):
		s.httpError(w, http.StatusNotFound, err.Error())

	case errors.As(err, new(*jobpool.TerminationError)):
		// The delete contract guarantees termination; failing to deliver a
		// kill signal means that contract is broken, so surface it loudly.
		s.logger.Error(
			logMsg,
			"request_id", requestIDFromContext(r.Context()),
			"identity", identityFromContext(r.Context()),
			"err", err,
		)
		s.httpError(w, http.StatusInternalServerError, err.Error())

	default:
		s.logger.Error(
			logMsg,
			"request_id", requestIDFromContext(r.Context()),
			"identity", identityFromContext(r.Context()),
			"err", err,
		)
		s.httpError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", "err", err)
	}
}

func (s *server) httpError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, api.ErrorResponse{Error: message})
}
