package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coursejobs/internal/media"
	"coursejobs/internal/models"
	"coursejobs/internal/ratelimit"
	"coursejobs/internal/store"
	"coursejobs/internal/telemetry"
	"coursejobs/internal/webhook"
)

const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	Handle(ctx context.Context, endpoint webhook.Endpoint, signature string, body []byte) (webhook.Outcome, error)
}

type MediaService interface {
	Generate(ctx context.Context, sourceID string) (models.MediaArtifact, error)
	Translate(ctx context.Context, sourceID, language string) (models.MediaArtifact, error)
	List(ctx context.Context, sourceID string) ([]media.ArtifactView, error)
}

// JobAdmin is the read and maintenance view of job history.
type JobAdmin interface {
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
	GetHistory(ctx context.Context, id string) (models.JobHistoryRecord, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
	StuckPending(ctx context.Context, cutoff time.Time, limit int) ([]models.JobHistoryRecord, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface: webhooks, subtitle requests and job admin.
type Server struct {
	webhooks WebhookProcessor
	media    MediaService
	admin    JobAdmin
	limiter  Limiter
	health   []Pinger
	log      *zap.Logger
	now      func() time.Time
}

// Options are the collaborators of a Server. Limiter and Health may be nil.
type Options struct {
	Webhooks WebhookProcessor
	Media    MediaService
	Admin    JobAdmin
	Limiter  Limiter
	Health   []Pinger
}

func New(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		webhooks: opts.Webhooks,
		media:    opts.Media,
		admin:    opts.Admin,
		limiter:  opts.Limiter,
		health:   opts.Health,
		log:      log,
		now:      time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/webhooks/{endpoint}", s.handleWebhook)

	r.Route("/media/{id}/subtitles", func(r chi.Router) {
		r.Get("/", s.handleListSubtitles)
		r.With(s.rateLimit).Post("/generate", s.handleGenerate)
		r.With(s.rateLimit).Post("/translate", s.handleTranslate)
	})

	r.Route("/admin/jobs", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/stuck", s.handleStuck)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/{id}", s.handleGetJob)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "unhealthy", "dependency unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint := webhook.Endpoint(chi.URLParam(r, "endpoint"))
	if endpoint != webhook.EndpointBilling && endpoint != webhook.EndpointConnect {
		writeError(w, http.StatusNotFound, "not_found", "unknown webhook endpoint")
		return
	}

	// The signature covers the exact bytes, so the body is read raw.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed_event", "could not read body")
		return
	}

	_, err = s.webhooks.Handle(r.Context(), endpoint, r.Header.Get(webhook.SignatureHeader), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, webhook.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
	case errors.Is(err, webhook.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed_event", err.Error())
	case errors.Is(err, webhook.ErrUnknownEndpoint):
		writeError(w, http.StatusNotFound, "not_found", "unknown webhook endpoint")
	default:
		writeError(w, http.StatusInternalServerError, "processing_failed", "event could not be processed")
	}
}

type artifactAccepted struct {
	ArtifactID string                `json:"artifactId"`
	Status     models.ArtifactStatus `json:"status"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	art, err := s.media.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, artifactAccepted{ArtifactID: art.ID, Status: art.Status})
}

type translateRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "body must be {\"language\":\"..\"}")
		return
	}
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "invalid_language", "language is required")
		return
	}
	art, err := s.media.Translate(r.Context(), chi.URLParam(r, "id"), req.Language)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, artifactAccepted{ArtifactID: art.ID, Status: art.Status})
}

func (s *Server) handleListSubtitles(w http.ResponseWriter, r *http.Request) {
	views, err := s.media.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": views})
}

func (s *Server) writeMediaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "subtitles already processing or completed")
	case errors.Is(err, media.ErrOriginalNotReady):
		writeError(w, http.StatusConflict, "original_not_ready", "original subtitles are not completed yet")
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "media source not found")
	case errors.Is(err, media.ErrInvalidLanguage):
		writeError(w, http.StatusBadRequest, "invalid_language", err.Error())
	case errors.Is(err, media.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "subtitle translation is not configured")
	default:
		s.log.Error("media request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "media request failed")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.admin.CountByStatus(r.Context())
	if err != nil {
		s.log.Error("count job history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not count jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "job id must be a uuid")
		return
	}
	rec, err := s.admin.GetHistory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		s.log.Error("load job history", zap.String("history_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	olderThan, ok := durationParam(w, r, "older_than", 30*24*time.Hour)
	if !ok {
		return
	}
	cutoff := s.now().Add(-olderThan)
	purged, err := s.admin.PurgeTerminal(r.Context(), cutoff)
	if err != nil {
		s.log.Error("purge job history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "cleanup failed")
		return
	}
	s.log.Info("purged terminal job history", zap.Int64("deleted", purged), zap.Time("cutoff", cutoff))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": purged, "cutoff": cutoff})
}

func (s *Server) handleStuck(w http.ResponseWriter, r *http.Request) {
	olderThan, ok := durationParam(w, r, "older_than", 15*time.Minute)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	recs, err := s.admin.StuckPending(r.Context(), s.now().Add(-olderThan), limit)
	if err != nil {
		s.log.Error("list stuck jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not list stuck jobs")
		return
	}
	if recs == nil {
		recs = []models.JobHistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": recs})
}

func durationParam(w http.ResponseWriter, r *http.Request, name string, def time.Duration) (time.Duration, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a positive duration such as 720h")
		return 0, false
	}
	return d, true
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			s.log.Error("rate limiter unavailable", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate_limit_error", "rate limiter unavailable")
			return
		}
		if !d.Allowed {
			telemetry.RateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many subtitle requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
