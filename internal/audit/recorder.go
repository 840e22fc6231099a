package audit

import (
	"context"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize is the number of entries queued before new ones are dropped.
	DefaultBufferSize = 1024

	writeTimeout = 5 * time.Second
)

// Recorder queues entries and writes them from a single goroutine so request
// handlers never wait on the database. It's safe for concurrent use.
type Recorder struct {
	repo     Repository
	entries  chan Entry
	done     chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
	start    sync.Once
	shutdown sync.Once
	mu       sync.RWMutex
	started  bool
	closed   bool
}

// NewRecorder creates a Recorder. Call Start to begin writing.
func NewRecorder(repo Repository, bufferSize int, logger zerolog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		repo:    repo,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "audit_recorder").Logger(),
	}
}

// Start launches the writer goroutine. Subsequent calls are no-ops.
func (r *Recorder) Start() {
	r.start.Do(func() {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()
		r.wg.Add(1)
		go r.writeLoop()
		r.logger.Info().Int("buffer", cap(r.entries)).Msg("audit recorder started")
	})
}

// Record enqueues an entry without blocking. A full buffer drops the entry.
func (r *Recorder) Record(entry Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.AuditEntriesDropped.WithLabelValues("closed").Inc()
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case r.entries <- entry:
	default:
		metrics.AuditEntriesDropped.WithLabelValues("buffer_full").Inc()
		r.logger.Warn().
			Str("method", entry.Method).
			Str("url", entry.URL).
			Msg("audit buffer full, entry dropped")
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		case <-r.done:
			r.drain()
			return
		}
	}
}

// drain writes whatever was queued before Close.
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry Entry) {
	// The request context is gone by now.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, entry); err != nil {
		metrics.AuditEntriesDropped.WithLabelValues("write_error").Inc()
		r.logger.Error().
			Err(err).
			Str("method", entry.Method).
			Str("url", entry.URL).
			Msg("failed to write audit entry")
		return
	}
	metrics.AuditEntriesWritten.Inc()
}

// Pending returns the number of queued entries.
func (r *Recorder) Pending() int {
	return len(r.entries)
}

// Close stops accepting entries, writes the queued ones and waits for the
// writer to exit. It's safe to call Close multiple times.
func (r *Recorder) Close() error {
	r.shutdown.Do(func() {
		r.mu.Lock()
		r.closed = true
		wasStarted := r.started
		r.mu.Unlock()

		if wasStarted {
			close(r.done)
			r.wg.Wait()
		} else {
			r.drain()
		}
		r.logger.Info().Msg("audit recorder shutdown")
	})
	return nil
}
