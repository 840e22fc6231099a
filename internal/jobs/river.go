package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const (
	JobKindBookingNotification = "booking_notification"
	JobKindAccountEmail        = "account_email"
	JobKindEventSweep          = "event_sweep"
)

const (
	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

const (
	NotificationMaxAttempts = 8
	EventSweepMaxAttempts   = 1

	DefaultSweepInterval = 15 * time.Minute
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the default retry policy configuration.
// notificationAttempts overrides NotificationMaxAttempts when positive.
func NewRetryPolicy(notificationAttempts int) *RetryPolicy {
	if notificationAttempts <= 0 {
		notificationAttempts = NotificationMaxAttempts
	}
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindBookingNotification: {
				MaxAttempts: notificationAttempts,
				BaseDelay:   30 * time.Second,
				MaxDelay:    1 * time.Hour,
			},
			// Account links expire, so stop retrying well before they do.
			JobKindAccountEmail: {
				MaxAttempts: 5,
				BaseDelay:   15 * time.Second,
				MaxDelay:    10 * time.Minute,
			},
			// A failed sweep is simply picked up by the next tick.
			JobKindEventSweep: {
				MaxAttempts: EventSweepMaxAttempts,
				BaseDelay:   0,
				MaxDelay:    0,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

// InsertOpts returns the insert options for a job kind under this policy.
func (p *RetryPolicy) InsertOpts(kind string) *river.InsertOpts {
	opts := &river.InsertOpts{MaxAttempts: p.configFor(kind).MaxAttempts}
	switch kind {
	case JobKindBookingNotification, JobKindAccountEmail:
		opts.Queue = QueueNotifications
	case JobKindEventSweep:
		opts.Queue = QueueMaintenance
	}
	return opts
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: NotificationMaxAttempts, BaseDelay: 1 * time.Minute, MaxDelay: 1 * time.Hour}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}

// ClientOptions configures the River client.
type ClientOptions struct {
	Workers              *river.Workers
	Logger               *slog.Logger
	Policy               *RetryPolicy
	PeriodicJobs         []*river.PeriodicJob
	NotificationsWorkers int
}

// NewClientConfig builds a River client configuration with retry policy and
// the Prometheus job hook.
func NewClientConfig(opts ClientOptions) *river.Config {
	policy := opts.Policy
	if policy == nil {
		policy = NewRetryPolicy(0)
	}
	notificationsWorkers := opts.NotificationsWorkers
	if notificationsWorkers <= 0 {
		notificationsWorkers = 5
	}

	// Without workers the client only inserts; another process works the queue.
	if opts.Workers == nil {
		return &river.Config{Logger: opts.Logger, MaxAttempts: policy.Default.MaxAttempts}
	}

	config := &river.Config{
		Workers:      opts.Workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: opts.PeriodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 5},
			QueueNotifications: {MaxWorkers: notificationsWorkers},
			QueueMaintenance:   {MaxWorkers: 1},
		},
		Hooks: []rivertype.Hook{metrics.NewRiverMetricsHook()},
	}
	if opts.Logger != nil {
		config.Logger = opts.Logger
		config.ErrorHandler = NewAlertingErrorHandler(opts.Logger, nil)
	}
	return config
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, opts ClientOptions) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(opts))
}

// NewPeriodicJobs returns the periodic schedule: the event status sweep runs
// every interval and once at startup.
func NewPeriodicJobs(sweepInterval time.Duration, policy *RetryPolicy) []*river.PeriodicJob {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(sweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return EventSweepArgs{}, policy.InsertOpts(JobKindEventSweep)
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
