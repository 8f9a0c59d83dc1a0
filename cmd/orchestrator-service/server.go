package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/orchestrator"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// newRouter builds the reference async front door described in
// SPEC_FULL.md §6: POST /v1/disruptions queues a run and returns 202
// with a request id; GET /v1/disruptions/{id} reports the run's
// current status, attaching the audit trail once it completes. This
// adapter never blocks a request on the orchestration itself — the
// engine runs in its own goroutine per accepted request.
func newRouter(orch *orchestrator.Orchestrator, store *jobStore, registry *prometheus.Registry, logger *logrus.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1/disruptions", func(r chi.Router) {
		r.Post("/", createDisruptionHandler(orch, store, logger))
		r.Get("/{id}", getDisruptionHandler(store))
	})

	return r
}

type createDisruptionRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

func createDisruptionHandler(orch *orchestrator.Orchestrator, store *jobStore, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body createDisruptionRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Prompt == "" {
			writeAppError(w, apperrors.NewValidationError("request body must be a JSON object with a non-empty \"prompt\" field"))
			return
		}

		requestID := uuid.NewString()
		store.accept(requestID)

		go func() {
			ctx := context.Background()
			store.markProcessing(requestID)
			trail := orch.Run(ctx, body.Prompt)
			store.complete(requestID, trail)
			logger.WithFields(logging.NewFields().Component("orchestrator-service").RequestID(requestID).RunID(trail.RunID).ToLogrus()).
				Info("orchestrator-service: run finished")
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID, "status": string(jobAccepted)})
	}
}

func getDisruptionHandler(store *jobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		j, ok := store.get(id)
		if !ok {
			writeAppError(w, apperrors.New(apperrors.ErrorTypeValidation, "unknown request id").WithDetails(id))
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.WithFields(logging.HTTPFields(req.Method, req.URL.Path, ww.Status()).Duration(time.Since(start)).ToLogrus()).
				Info("orchestrator-service: request handled")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAppError(w http.ResponseWriter, err *apperrors.AppError) {
	writeJSON(w, apperrors.GetStatusCode(err), map[string]string{"error": apperrors.SafeErrorMessage(err)})
}
