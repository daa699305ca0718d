package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/metrics"
	healthuc "github.com/kailas-cloud/recipedex/internal/usecase/health"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
	BuildIndex(ctx context.Context, force bool) (retrieval.IndexReport, error)
	Refresh(ctx context.Context, id string) error
	Forget(ctx context.Context, id string) error
	ClearIndex(ctx context.Context) (int, error)
	CachedCount(ctx context.Context) (int, error)
}

type healthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server serves the retrieval and index maintenance API.
type Server struct {
	retrieval retriever
	health    healthChecker
	logger    *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(retrieval retriever, health healthChecker, logger *zap.Logger) *Server {
	return &Server{retrieval: retrieval, health: health, logger: logger}
}

// Handler builds the router with the middleware stack. Empty apiKeys disables auth.
func (s *Server) Handler(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/retrieve", s.Retrieve)
		r.Route("/index", func(r chi.Router) {
			r.Post("/build", s.BuildIndex)
			r.Get("/count", s.CachedCount)
			r.Delete("/", s.ClearIndex)
			r.Post("/items/{id}/refresh", s.RefreshItem)
			r.Delete("/items/{id}", s.ForgetItem)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.retrieval.Retrieve(ctx, req.toDomain())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, responseToDTO(resp, usage))
}

// BuildIndex handles POST /v1/index/build?force=true.
func (s *Server) BuildIndex(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "force must be a boolean")
			return
		}
		force = v
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	report, err := s.retrieval.BuildIndex(ctx, force)
	dto := indexReportDTO{
		Items:          report.Items,
		Hits:           report.Hits,
		Stale:          report.Stale,
		Computed:       report.Computed,
		ProviderFailed: report.ProviderFailed,
	}
	setEmbeddingHeaders(w, usage)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto)
	case report.ProviderFailed:
		// Partial progress is kept, so the report is useful even on failure.
		s.logger.Warn("Index build incomplete", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"code":    codeProviderUnavailable,
			"message": safeDomainMessage(err),
			"report":  dto,
		})
	default:
		s.handleDomainError(w, err)
	}
}

// RefreshItem handles POST /v1/index/items/{id}/refresh.
func (s *Server) RefreshItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, usage := domain.NewContextWithUsage(r.Context())
	if err := s.retrieval.Refresh(ctx, id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	w.WriteHeader(http.StatusNoContent)
}

// ForgetItem handles DELETE /v1/index/items/{id}.
func (s *Server) ForgetItem(w http.ResponseWriter, r *http.Request) {
	if err := s.retrieval.Forget(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearIndex handles DELETE /v1/index.
func (s *Server) ClearIndex(w http.ResponseWriter, r *http.Request) {
	removed, err := s.retrieval.ClearIndex(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countDTO{Count: removed})
}

// CachedCount handles GET /v1/index/count.
func (s *Server) CachedCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.retrieval.CachedCount(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countDTO{Count: n})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// A degraded service still answers retrieval requests.
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if calls, _, tokens := usage.Snapshot(); calls > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
