// Package metrics exposes Prometheus collectors for op invocations, retries,
// batch execution and permission changes.
//
// All recording methods are safe to call on a nil *Collectors so packages can
// take metrics as an optional dependency.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opbulk"

// Collectors holds every metric opbulk records. Each instance owns a private
// registry so tests can create as many as they like.
type Collectors struct {
	registry *prometheus.Registry

	commandsTotal     *prometheus.CounterVec
	retriesTotal      prometheus.Counter
	tasksTotal        *prometheus.CounterVec
	tasksInFlight     prometheus.Gauge
	permissionUpdates *prometheus.CounterVec
	itemsScanned      prometheus.Counter
	searchMatches     prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "op_commands_total",
				Help:      "Total number of op CLI invocations by outcome",
			},
			[]string{"resource", "outcome"},
		),
		retriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "op_retries_total",
				Help:      "Total number of retries after a rate-limit response",
			},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_tasks_total",
				Help:      "Total number of batch tasks by final status",
			},
			[]string{"status"},
		),
		tasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_tasks_in_flight",
				Help:      "Number of batch tasks currently running",
			},
		),
		permissionUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_updates_total",
				Help:      "Total number of vault permission changes by principal kind, action and status",
			},
			[]string{"principal", "action", "status"},
		),
		itemsScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_items_scanned_total",
				Help:      "Total number of items fetched and scanned by credential search",
			},
		),
		searchMatches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_matches_total",
				Help:      "Total number of items matching a credential search term",
			},
		),
	}
}

// Registry returns the registry backing c.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CommandOutcome counts one op invocation.
func (c *Collectors) CommandOutcome(resource, outcome string) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(resource, outcome).Inc()
}

// Retry counts one backoff retry.
func (c *Collectors) Retry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// TaskStarted marks a batch task as running.
func (c *Collectors) TaskStarted() {
	if c == nil {
		return
	}
	c.tasksInFlight.Inc()
}

// TaskFinished records the final status of a started task.
func (c *Collectors) TaskFinished(status string) {
	if c == nil {
		return
	}
	c.tasksInFlight.Dec()
	c.tasksTotal.WithLabelValues(status).Inc()
}

// TaskSkipped records a task that was never started because the batch aborted.
func (c *Collectors) TaskSkipped() {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(StatusSkipped).Inc()
}

// PermissionUpdate counts one vault permission change.
func (c *Collectors) PermissionUpdate(principal, action string, ok bool) {
	if c == nil {
		return
	}
	status := StatusSucceeded
	if !ok {
		status = StatusFailed
	}
	c.permissionUpdates.WithLabelValues(principal, action, status).Inc()
}

// ItemsScanned adds n to the scanned item counter.
func (c *Collectors) ItemsScanned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.itemsScanned.Add(float64(n))
}

// SearchMatch counts one matching item.
func (c *Collectors) SearchMatch() {
	if c == nil {
		return
	}
	c.searchMatches.Inc()
}

// Task status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Serve exposes c on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collectors) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
