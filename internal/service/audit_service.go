package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

// AuditService records decisions asynchronously: a buffered channel feeds a
// single background worker, so records reach the store in submission order
// and the request path never waits on storage. A full channel drops the
// record and counts it; it never fails a request.
type AuditService struct {
	store         audit.DecisionStore
	records       chan audit.DecisionRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
	onDrop      func()

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // unix nanos, rate-limits depth warnings

	adaptiveFlushThreshold int // depth % that switches to 4x faster flushing

	closeMu sync.RWMutex
	closed  bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the record buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.DecisionRecord, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster
// flushing. 0 disables adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithDropHook registers a callback invoked once per dropped record.
func WithDropHook(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}

// NewAuditService creates an AuditService writing to store.
func NewAuditService(store audit.DecisionStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:                  store,
		records:                make(chan audit.DecisionRecord, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues rec for the worker. It does not block beyond sendTimeout.
func (s *AuditService) Record(rec audit.DecisionRecord) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(rec)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- rec:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(rec)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- rec:
	case <-timer.C:
		s.recordDrop(rec)
	}
}

func (s *AuditService) recordDrop(rec audit.DecisionRecord) {
	drops := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.logger.Warn("decision record dropped",
		"request_id", rec.RequestID,
		"outcome", rec.Outcome,
		"reason", rec.Reason,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("decision channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the total dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel and waits for the worker to flush what it holds.
// Records submitted after Stop are dropped. Safe to call more than once.
func (s *AuditService) Stop() {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.records)
	}
	s.closeMu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.DecisionRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fastMode := false

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.flush(flushCtx, batch)
	}

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, rec)

			depthPercent := len(s.records) * 100 / s.channelSize
			pressured := s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold
			if len(batch) >= s.batchSize || pressured {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			if s.adaptiveFlushThreshold > 0 {
				switch {
				case pressured && !fastMode:
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("decision flush: entering fast mode", "depth_percent", depthPercent)
				case !pressured && fastMode:
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("decision flush: returning to normal mode", "depth_percent", depthPercent)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain until Stop closes the channel so nothing queued is lost.
			for rec := range s.records {
				batch = append(batch, rec)
			}
			finalFlush()
			return
		}
	}
}

// flush writes a batch. Errors are logged, never propagated to requests.
func (s *AuditService) flush(ctx context.Context, batch []audit.DecisionRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write decision batch",
			"error", err,
			"count", len(batch),
		)
	}
}

var _ audit.Recorder = (*AuditService)(nil)
