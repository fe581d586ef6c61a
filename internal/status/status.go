// Package status exposes a read-only HTTP view of a running search:
// liveness, the current loop state as JSON, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/controller"
)

// Tracker receives loop states from the controller and serves them over
// HTTP. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	current controller.State
	seen    bool

	iterations prometheus.Counter
	bestScore  prometheus.Gauge
	lastScore  prometheus.Gauge

	logger *zap.Logger
}

// NewTracker creates a tracker registering its metrics with reg. A nil
// registry uses the default one; a nil logger disables logging.
func NewTracker(reg prometheus.Registerer, logger *zap.Logger) *Tracker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	return &Tracker{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bofit_iterations_total",
			Help: "Completed search iterations.",
		}),
		bestScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bofit_best_score",
			Help: "Best fit score observed so far (0 is a perfect fit).",
		}),
		lastScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bofit_iteration",
			Help: "Current iteration number.",
		}),
		logger: logger.Named("status"),
	}
}

// Observe records a loop state. Wire it as the controller's observer.
func (t *Tracker) Observe(s controller.State) {
	t.mu.Lock()
	t.current = s
	t.seen = true
	t.mu.Unlock()

	t.iterations.Inc()
	t.lastScore.Set(float64(s.Iteration))
	if s.Best.Valid {
		t.bestScore.Set(s.Best.Score)
	}
}

// Router builds the HTTP routes.
func (t *Tracker) Router(reg prometheus.Gatherer) chi.Router {
	if reg == nil {
		reg = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", t.handleHealth)
	r.Get("/status", t.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func (t *Tracker) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (t *Tracker) handleStatus(w http.ResponseWriter, _ *http.Request) {
	t.mu.RLock()
	s, seen := t.current, t.seen
	t.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !seen {
		json.NewEncoder(w).Encode(map[string]string{"state": "starting"})
		return
	}

	resp := map[string]interface{}{
		"run_uuid":  s.RunUUID,
		"iteration": s.Iteration,
		"max_itr":   s.MaxItr,
		"mode":      s.Mode,
		"records":   s.Records,
	}
	if s.Best.Valid {
		resp["best"] = map[string]interface{}{
			"score":     s.Best.Score,
			"index":     s.Best.Index,
			"iteration": s.Best.Iteration,
			"values":    s.Best.Values,
		}
	}
	json.NewEncoder(w).Encode(resp)
}

// Serve runs the status server until ctx is canceled.
func (t *Tracker) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           t.Router(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
