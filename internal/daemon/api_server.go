package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"ferry/internal/api"
	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/services"
	"ferry/internal/transfer"
)

const (
	maxRequestBytes     = 1 << 20
	defaultEventLimit   = 200
	defaultFollowWait   = 25 * time.Second
	maxFollowWait       = 50 * time.Second
	terminalGrace       = 250 * time.Millisecond
	defaultRecordLimit  = 200
	serverWriteTimeout  = 60 * time.Second
	serverShutdownGrace = 5 * time.Second
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		token:  cfg.API.Token,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.handler(cfg.API.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.guard(s.handleStatus))
	mux.HandleFunc("POST /api/transfers", s.guard(s.handleStartTransfer))
	mux.HandleFunc("GET /api/transfers", s.guard(s.handleListTransfers))
	mux.HandleFunc("GET /api/transfers/{id}", s.guard(s.handleGetTransfer))
	mux.HandleFunc("POST /api/transfers/{id}/cancel", s.guard(s.handleCancelTransfer))
	mux.HandleFunc("GET /api/transfers/{id}/events", s.guard(s.handleTransferEvents))
	mux.HandleFunc("GET /api/records", s.guard(s.handleRecords))

	if len(allowedOrigins) == 0 {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	})
	return c.Handler(mux)
}

// guard applies bearer auth and stamps a request id on the context.
func (s *apiServer) guard(next http.HandlerFunc) http.HandlerFunc {
	return authMiddleware(s.token, func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next(w, r.WithContext(services.WithRequestID(r.Context(), requestID)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
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
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.shutdown()
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	var body api.StartTransferRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req, err := body.StartRequest()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	batchID, err := s.daemon.transfers.Start(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	job, err := s.daemon.transfers.Status(batchID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/transfers/"+batchID)
	s.writeJSON(w, http.StatusAccepted, api.StartTransferResponse{
		BatchID:  batchID,
		Transfer: api.FromJobState(job, time.Now()),
	})
}

func (s *apiServer) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	jobs := s.daemon.transfers.List()
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	s.writeJSON(w, http.StatusOK, api.TransferListResponse{Transfers: api.FromJobStates(jobs, time.Now())})
}

func (s *apiServer) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.transfers.Status(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TransferResponse{Transfer: api.FromJobState(job, time.Now())})
}

func (s *apiServer) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.transfers.Cancel(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TransferResponse{Transfer: api.FromJobState(job, time.Now())})
}

func (s *apiServer) handleTransferEvents(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	job, err := s.daemon.transfers.Status(batchID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventLimit
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")

	ctx := r.Context()
	if follow {
		wait := followWait(query.Get("wait"))
		// FinishedAt is stamped just before batch-done is published. An
		// eagerly cancelled job is still running its in-flight item.
		if job.Finished() {
			wait = terminalGrace
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	raw, next, err := s.daemon.hub.Fetch(ctx, batchID, since, limit, follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	done := false
	for _, evt := range raw {
		if evt.Terminal() {
			done = true
		}
	}
	if len(raw) == 0 && job.Finished() {
		done = true
	}
	s.writeJSON(w, http.StatusOK, api.EventStreamResponse{
		Events: api.FromEvents(raw),
		Next:   next,
		Done:   done,
	})
}

func followWait(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return defaultFollowWait
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxFollowWait {
		return maxFollowWait
	}
	return wait
}

func (s *apiServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := transfer.Filters{
		TenantID:           strings.TrimSpace(query.Get("tenant")),
		OnlyNotTransferred: query.Get("pending") == "1" || strings.EqualFold(query.Get("pending"), "true"),
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	recs, err := s.daemon.store.List(r.Context(), filters, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordListResponse{Records: api.FromRecords(recs)})
}

func (s *apiServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		details := services.Details(err)
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
