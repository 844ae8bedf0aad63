package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"smart-harvester/internal/engine"
	"smart-harvester/internal/storage"
)

// Harvester is the dashboard's handle on the running engine.
type Harvester interface {
	ManualHarvest(ctx context.Context) (engine.HarvestAttempt, error)
	Sink() *engine.StatusSink
}

// Reloader re-reads configuration and applies it between ticks.
type Reloader func(ctx context.Context) error

// Options wire the dashboard server.
type Options struct {
	ListenAddr string
	Engine     Harvester
	Attempts   storage.AttemptAuditStore
	Samples    storage.SampleStore
	Reload     Reloader
}

// Server is the status/control HTTP surface consumed by the operator
// dashboard. It only reads the status sink and forwards control requests; all
// harvest logic stays in the engine.
type Server struct {
	opts   Options
	logger zerolog.Logger
	http   *http.Server
}

// NewServer constructs the dashboard server.
func NewServer(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		opts:   opts,
		logger: logger.With().Str("component", "dashboard").Logger(),
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/attempts", s.handleAttempts).Methods(http.MethodGet)
	api.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/harvest", s.handleManualHarvest).Methods(http.MethodPost)
	api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("dashboard listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusResponse struct {
	State               string          `json:"state"`
	Pair                string          `json:"pair"`
	LastPrice           string          `json:"last_price"`
	LastCheckedAt       *time.Time      `json:"last_checked_at,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LowBalance          bool            `json:"low_balance"`
	LastError           string          `json:"last_error,omitempty"`
	LastAttempt         *attemptPayload `json:"last_attempt,omitempty"`
}

type attemptPayload struct {
	AttemptID     string    `json:"attempt_id"`
	Pair          string    `json:"pair"`
	Price         string    `json:"price"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Outcome       string    `json:"outcome"`
	TxHash        string    `json:"tx_hash,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.opts.Engine.Sink().Read()

	resp := statusResponse{
		State:               string(status.State),
		Pair:                status.Pair,
		LastPrice:           status.LastPrice.String(),
		ConsecutiveFailures: status.ConsecutiveFailures,
		LowBalance:          status.LowBalance,
		LastError:           status.LastError,
	}
	if !status.LastCheckedAt.IsZero() {
		checked := status.LastCheckedAt
		resp.LastCheckedAt = &checked
	}
	if status.LastAttempt != nil {
		resp.LastAttempt = &attemptPayload{
			AttemptID:     status.LastAttempt.ID,
			Pair:          status.LastAttempt.Sample.Pair,
			Price:         status.LastAttempt.Sample.Price.String(),
			SubmittedAt:   status.LastAttempt.SubmittedAt,
			Outcome:       string(status.LastAttempt.Outcome),
			TxHash:        status.LastAttempt.TxHash,
			FailureReason: status.LastAttempt.FailureReason,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Attempts == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	limit := queryInt(r, "limit", 20)
	records, err := s.opts.Attempts.ListRecentAttempts(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list attempts failed")
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	payload := make([]attemptPayload, 0, len(records))
	for _, rec := range records {
		item := attemptPayload{
			AttemptID:   rec.AttemptID,
			Pair:        rec.Pair,
			Price:       rec.Price.String(),
			SubmittedAt: rec.SubmittedAt,
			Outcome:     rec.Outcome,
		}
		if rec.TxHash != nil {
			item.TxHash = *rec.TxHash
		}
		if rec.FailureReason != nil {
			item.FailureReason = *rec.FailureReason
		}
		payload = append(payload, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": payload})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.opts.Samples == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	limit := queryInt(r, "limit", 100)
	records, err := s.opts.Samples.ListRecentSamples(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list samples failed")
		writeError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}

	type pricePayload struct {
		Pair       string    `json:"pair"`
		Price      string    `json:"price"`
		ObservedAt time.Time `json:"observed_at"`
		Source     string    `json:"source,omitempty"`
	}
	payload := make([]pricePayload, 0, len(records))
	for _, rec := range records {
		payload = append(payload, pricePayload{
			Pair:       rec.Pair,
			Price:      rec.Price.String(),
			ObservedAt: rec.ObservedAt,
			Source:     rec.Source,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": payload})
}

func (s *Server) handleManualHarvest(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.opts.Engine.ManualHarvest(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrStopped):
			writeError(w, http.StatusConflict, "engine is stopped")
		case errors.Is(err, engine.ErrAttemptInFlight):
			writeError(w, http.StatusConflict, "harvest attempt already in flight")
		default:
			s.logger.Error().Err(err).Msg("manual harvest failed")
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, attemptPayload{
		AttemptID:     attempt.ID,
		Pair:          attempt.Sample.Pair,
		Price:         attempt.Sample.Price.String(),
		SubmittedAt:   attempt.SubmittedAt,
		Outcome:       string(attempt.Outcome),
		TxHash:        attempt.TxHash,
		FailureReason: attempt.FailureReason,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		writeError(w, http.StatusServiceUnavailable, "reload not configured")
		return
	}
	if err := s.opts.Reload(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("config reload failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "configuration reloaded"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
