package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(ctx context.Context) []types.Model
	Status() types.StatusResponse
	Metrics() types.MetricsSnapshot
	InferSync(ctx context.Context, req types.InferRequest) (types.InferenceResult, error)
	InferStream(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	EndSession(id string) int
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/models", handleModels(svc))
	r.Get("/status", handleStatus(svc))
	r.Get("/stats", handleStats(svc))
	r.Post("/infer", handleInfer(svc))
	r.Delete("/sessions/{id}", handleEndSession(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleModels godoc
// @Summary List models
// @Description Aggregated model descriptors across available providers.
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := types.ModelsResponse{Models: svc.ListModels(r.Context())}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleStatus godoc
// @Summary Engine status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleStats godoc
// @Summary Performance snapshot
// @Produce json
// @Success 200 {object} types.MetricsSnapshot
// @Router /stats [get]
func handleStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Metrics()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleEndSession godoc
// @Summary End a session
// @Description Drops the session record and releases its tracked memory.
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} map[string]int
// @Router /sessions/{id} [delete]
func handleEndSession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeJSONError(w, http.StatusBadRequest, "session id is required")
			return
		}
		freed := svc.EndSession(id)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{"freed_mb": freed}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleInfer godoc
// @Summary Run inference
// @Description Streams NDJSON token chunks when stream=true, otherwise
// @Description returns a single JSON result.
// @Accept json
// @Produce json
// @Param request body types.InferRequest true "inference request"
// @Success 200 {object} types.InferenceResult
// @Failure 400 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Failure 504 {object} types.ErrorResponse
// @Router /infer [post]
func handleInfer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		// Join server base context with request context so shutdown
		// cancels in-flight work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if sec := inferTimeout; sec > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(sec)*time.Second)
			defer tcancel()
		}

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo {
			logInferStart(r, req)
		}

		if req.Stream {
			serveStream(ctx, svc, w, r, req, lvl, start)
			return
		}

		res, err := svc.InferSync(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForErr(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("infer")
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				logInferEnd(r, status, time.Since(start), err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		if lvl >= LevelInfo {
			logInferEnd(r, http.StatusOK, time.Since(start), nil)
		}
	}
}

func serveStream(ctx context.Context, svc Service, w http.ResponseWriter, r *http.Request, req types.InferRequest, lvl LogLevel, start time.Time) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	// Optional logging of NDJSON tokens
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{})
	}
	if err := svc.InferStream(ctx, req, writer, flush); err != nil {
		// If context was canceled (client disconnect), just return.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			recordStreamOutcome("disconnect")
			return
		}
		recordStreamOutcome("error")
		status := statusForErr(err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("infer")
		}
		writeJSONError(w, status, err.Error())
		if lvl >= LevelInfo {
			logInferEnd(r, status, time.Since(start), err)
		}
		return
	}
	recordStreamOutcome("ok")
	if lvl >= LevelInfo {
		logInferEnd(r, http.StatusOK, time.Since(start), nil)
	}
}
