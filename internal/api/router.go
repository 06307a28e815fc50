package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewRouter creates a new http.ServeMux and registers the API handlers.
func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/targets", h.CreateTargets)
	mux.HandleFunc("GET /v1/targets", h.ListTargets)
	mux.HandleFunc("GET /v1/targets/{target_id}", h.GetTarget)
	mux.HandleFunc("DELETE /v1/targets/{target_id}", h.DeleteTarget)
	mux.HandleFunc("POST /v1/targets/{target_id}/recommendations", h.AddRecommendations)
	mux.HandleFunc("POST /v1/targets/{target_id}/check", h.CheckTarget)
	mux.HandleFunc("GET /v1/targets/{target_id}/results", h.ListResults)
	mux.HandleFunc("POST /v1/passes", h.RunPass)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return requestLogger(h.log, mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)))
	})
}
