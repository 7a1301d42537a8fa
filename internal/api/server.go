// Package api exposes the simulation over HTTP: JSON state endpoints, a
// WebSocket live feed, Prometheus metrics, and health probes.
package api

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"binsim/internal/metrics"
	"binsim/internal/model"
	"binsim/internal/stats"
)

// SnapshotSource serves the current world state. The simulation manager
// satisfies it.
type SnapshotSource interface {
	RunID() string
	Latest() (model.Snapshot, bool)
}

type Server struct {
	Store     stats.Store
	Broker    EventBroker
	Snapshots SnapshotSource
}

func NewServer(store stats.Store, broker EventBroker, snaps SnapshotSource) *Server {
	return &Server{Store: store, Broker: broker, Snapshots: snaps}
}

// NewStoreFromEnv selects Postgres when DATABASE_URL is set, the in-memory
// store otherwise. Migrations run on startup unless DB_MIGRATE=false.
func NewStoreFromEnv(ctx context.Context) (stats.Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		return stats.NewMemory(), nil
	}
	pg, err := stats.NewPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if os.Getenv("DB_MIGRATE") != "false" {
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return pg, nil
}

// NewBrokerFromEnv selects the Redis broker when REDIS_URL is set, falling
// back to the in-memory broker.
func NewBrokerFromEnv() EventBroker {
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			return rb
		}
		log.Printf("api: REDIS_URL set but unusable, using in-memory broker")
	}
	return NewBroker()
}

// Routes registers all handlers on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/snapshot", s.SnapshotHandler)
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler)
	mux.HandleFunc("/v1/feed", s.FeedHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}

// LogMiddleware logs each request and records the HTTP metrics.
func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
		status := http.StatusText(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so the WebSocket upgrade works
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
