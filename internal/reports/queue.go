// Package reports records "report generation requested" events. Report
// generation itself happens elsewhere; this package only persists the
// trigger.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusboard/internal/metrics"
	"focusboard/internal/retry"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// StatusPending is the status of a freshly recorded request.
const StatusPending = "pending"

// Queue implements interfaces.ReportSink with a bounded channel drained by
// one worker goroutine. RequestReport never blocks the caller.
type Queue struct {
	store   interfaces.ReportStore
	retry   retry.Policy
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	requests chan int64
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ interfaces.ReportSink = (*Queue)(nil)

// NewQueue creates a queue holding at most size pending requests.
func NewQueue(store interfaces.ReportStore, size int, m *metrics.Collector, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 1
	}
	return &Queue{
		store:    store,
		retry:    retry.Background(),
		metrics:  m,
		logger:   logger.With("component", "reports"),
		now:      time.Now,
		requests: make(chan int64, size),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. It must be called once.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.run(ctx)
}

// RequestReport enqueues a request for sessionID. A full or stopped queue
// drops the request and logs it.
func (q *Queue) RequestReport(sessionID int64) {
	if err := q.enqueue(sessionID); err != nil {
		q.metrics.ReportDropped()
		q.logger.Warn("report request dropped", "session_id", sessionID, "error", err)
	}
}

func (q *Queue) enqueue(sessionID int64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.requests <- sessionID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for sessionID := range q.requests {
		q.record(ctx, sessionID)
	}
}

func (q *Queue) record(ctx context.Context, sessionID int64) {
	req := &types.ReportRequest{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		RequestedAt: q.now().UTC(),
		Status:      StatusPending,
	}
	err := q.retry.Do(ctx, func(attempt int) error {
		if err := q.store.RecordReportRequest(ctx, req); err != nil {
			q.logger.Debug("report request write failed", "session_id", sessionID, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		q.metrics.ReportDropped()
		q.metrics.PersistenceError(err.Error())
		q.logger.Error("failed to record report request", "session_id", sessionID, "error", err)
		return
	}
	q.metrics.ReportRequested()
	q.logger.Info("report generation requested", "session_id", sessionID, "request_id", req.ID)
}

// Stop refuses new requests, drains the ones already queued and waits for
// the worker, or for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.requests)
		q.mu.Unlock()
	})
	if q.cancel == nil {
		// never started
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		return fmt.Errorf("waiting for report worker: %w", ctx.Err())
	}
}
