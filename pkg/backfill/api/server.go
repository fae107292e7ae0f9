// Package api implements the admin HTTP surface the rest of the backfill
// subsystem is driven through: job lifecycle, rate-limit configuration,
// and snapshot inspection/deletion. All request/response bodies are
// JSON; every response carries an operation ID and timestamp.
package api

import (
	"net/http"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/index"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/service"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
)

// AdminAPI serves the /api/admin surface over net/http, delegating all
// business logic to BackfillService and the storage provider directly
// for snapshot inspection.
type AdminAPI struct {
	svc   *service.BackfillService
	store storage.Provider
	index *index.Maintainer
	mux   *http.ServeMux
}

// New builds an AdminAPI and registers its routes.
func New(svc *service.BackfillService, store storage.Provider, maintainer *index.Maintainer) *AdminAPI {
	a := &AdminAPI{svc: svc, store: store, index: maintainer, mux: http.NewServeMux()}
	a.routes()
	return a
}

func (a *AdminAPI) routes() {
	prefix := "/api/admin"

	a.mux.HandleFunc("POST "+prefix+"/backfill", a.withMetrics("POST", "/backfill", a.handleCreateJob))
	a.mux.HandleFunc("GET "+prefix+"/backfill/jobs", a.withMetrics("GET", "/backfill/jobs", a.handleListJobs))
	a.mux.HandleFunc("POST "+prefix+"/backfill/preview", a.withMetrics("POST", "/backfill/preview", a.handlePreview))
	a.mux.HandleFunc("GET "+prefix+"/backfill/config/rate-limit", a.withMetrics("GET", "/backfill/config/rate-limit", a.handleGetRateLimit))
	a.mux.HandleFunc("PUT "+prefix+"/backfill/config/rate-limit", a.withMetrics("PUT", "/backfill/config/rate-limit", a.handlePutRateLimit))
	a.mux.HandleFunc("GET "+prefix+"/backfill/{jobId}", a.withMetrics("GET", "/backfill/:jobId", a.handleGetJob))
	a.mux.HandleFunc("DELETE "+prefix+"/backfill/{jobId}", a.withMetrics("DELETE", "/backfill/:jobId", a.handleCancelJob))
	a.mux.HandleFunc("POST "+prefix+"/backfill/{jobId}/force-cancel", a.withMetrics("POST", "/backfill/:jobId/force-cancel", a.handleForceCancelJob))

	a.mux.HandleFunc("GET "+prefix+"/snapshots", a.withMetrics("GET", "/snapshots", a.handleListSnapshots))
	a.mux.HandleFunc("DELETE "+prefix+"/snapshots/range", a.withMetrics("DELETE", "/snapshots/range", a.handleDeleteSnapshotRange))
	a.mux.HandleFunc("DELETE "+prefix+"/snapshots/all", a.withMetrics("DELETE", "/snapshots/all", a.handleDeleteAllSnapshots))
	a.mux.HandleFunc("DELETE "+prefix+"/snapshots", a.withMetrics("DELETE", "/snapshots", a.handleDeleteSnapshots))
	a.mux.HandleFunc("GET "+prefix+"/snapshots/{id}/payload", a.withMetrics("GET", "/snapshots/:id/payload", a.handleGetSnapshotPayload))
	a.mux.HandleFunc("GET "+prefix+"/snapshots/{id}", a.withMetrics("GET", "/snapshots/:id", a.handleGetSnapshot))
}

// withMetrics wraps handler with structured access logging and the
// APIRequestsTotal/APIRequestDuration instrumentation, labeled by the
// route's templated path so cardinality stays bounded.
func (a *AdminAPI) withMetrics(method, routePath string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		handler(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, method, routePath)
		metrics.APIRequestsTotal.WithLabelValues(method, routePath, http.StatusText(rec.status)).Inc()
		log.WithComponent("api").Info().
			Str("method", method).
			Str("path", routePath).
			Int("status", rec.status).
			Msg("admin api request")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the http.Handler to mount on a server.
func (a *AdminAPI) Handler() http.Handler {
	return a.mux
}

// Serve starts an HTTP server on addr with this API mounted, mirroring
// the timeouts of a conservatively-configured admin surface.
func (a *AdminAPI) Serve(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}
