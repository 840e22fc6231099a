package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queries timed by RecordQuery. These are the statements on the booking hot
// path and the maintenance jobs; everything else is covered by HTTP latency.
const (
	QueryLockEvent          = "lock_event"
	QueryAdjustBookings     = "adjust_event_bookings"
	QuerySweepEventStatuses = "sweep_event_statuses"
	QueryDeleteUser         = "delete_user"
)

var (
	// DBPoolConnections reports pgxpool connection counts by state:
	// total, acquired, idle and max.
	DBPoolConnections = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Database pool connections by state",
		},
		[]string{"state"},
	)

	// DBPoolEmptyAcquires counts acquires that had to wait for a connection.
	// It climbs during booking stampedes when the pool is too small.
	DBPoolEmptyAcquires = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_empty_acquires",
			Help:      "Cumulative acquires that waited for a free connection",
		},
	)

	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Duration of timed database statements",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"query"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Failed timed database statements by cause",
		},
		[]string{"query", "cause"},
	)
)

// WatchPool copies pool statistics into the gauges every interval until ctx
// is done.
func WatchPool(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if pool == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		observePool(pool.Stat())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func observePool(stat *pgxpool.Stat) {
	DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	DBPoolConnections.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
	DBPoolEmptyAcquires.Set(float64(stat.EmptyAcquireCount()))
}

// RecordQuery observes a timed statement. Use it deferred with a named error:
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery(metrics.QueryLockEvent, start, err) }()
func RecordQuery(query string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		DBErrors.WithLabelValues(query, errorCause(err)).Inc()
	}
}

// errorCause buckets an error. Capacity and uniqueness violations are
// expected under contention and are kept apart from real failures.
func errorCause(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514":
			return "check_violation"
		case "23505":
			return "unique_violation"
		case "40001", "40P01":
			return "serialization"
		case "55P03", "57014":
			return "lock_timeout"
		}
	}
	return "query_error"
}
