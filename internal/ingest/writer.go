package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/queue"
)

var ErrWriterStopped = errors.New("writer stopped")

const insertAttempts = 3

// SampleSink persists batches of samples.
type SampleSink interface {
	InsertSamples(ctx context.Context, samples []model.PositionSample) error
	TouchLastSeen(ctx context.Context, seen map[string]time.Time) error
}

// Writer batches samples in front of the ledger. Samples are routed to a
// shard by agv_id, so one AGV's samples are written in the order they were
// accepted while different shards write concurrently.
type Writer struct {
	sink          SampleSink
	shards        []*shard
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
}

type shard struct {
	id       int
	in       chan model.PositionSample
	flushReq chan chan error
	// lost holds failures of size- and ticker-triggered flushes until the
	// next Flush reports them. Owned by the shard goroutine.
	lost error
}

// WriterStats is a point-in-time view of writer throughput.
type WriterStats struct {
	Written int64
	Failed  int64
	Pending int
}

// NewWriter creates a writer with numShards independent batches.
func NewWriter(sink SampleSink, numShards, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Writer {
	if numShards < 1 {
		numShards = 1
	}
	w := &Writer{
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
	for i := 0; i < numShards; i++ {
		w.shards = append(w.shards, &shard{
			id:       i,
			in:       make(chan model.PositionSample, batchSize*2),
			flushReq: make(chan chan error),
		})
	}
	return w
}

// Start launches one goroutine per shard.
func (w *Writer) Start(ctx context.Context) {
	for _, sh := range w.shards {
		w.wg.Add(1)
		go w.run(ctx, sh)
	}
}

// Stop flushes what is buffered and waits for the shards to exit.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Write hands a sample to its shard. It blocks while the shard is full.
func (w *Writer) Write(ctx context.Context, s model.PositionSample) error {
	sh := w.shards[queue.ShardFor(s.AGVID, len(w.shards))]
	select {
	case <-w.stopCh:
		return ErrWriterStopped
	default:
	}
	select {
	case sh.in <- s:
		return nil
	case <-w.stopCh:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush writes everything accepted so far and returns once it is durable.
// It fails if any batch accepted since the previous Flush was dropped, so a
// caller never acknowledges samples that did not reach the sink.
func (w *Writer) Flush(ctx context.Context) error {
	replies := make([]chan error, len(w.shards))
	for i, sh := range w.shards {
		replies[i] = make(chan error, 1)
		select {
		case sh.flushReq <- replies[i]:
		case <-w.stopCh:
			return ErrWriterStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for _, reply := range replies {
		select {
		case err := <-reply:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Stats returns writer counters.
func (w *Writer) Stats() WriterStats {
	pending := 0
	for _, sh := range w.shards {
		pending += len(sh.in)
	}
	return WriterStats{Written: w.written.Load(), Failed: w.failed.Load(), Pending: pending}
}

func (w *Writer) run(ctx context.Context, sh *shard) {
	defer w.wg.Done()

	batch := make([]model.PositionSample, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	drain := func() {
		for n := len(sh.in); n > 0; n-- {
			batch = append(batch, <-sh.in)
		}
	}

	for {
		select {
		case <-w.stopCh:
			drain()
			// ctx may already be cancelled during shutdown.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.flush(shutdownCtx, sh, batch)
			cancel()
			return

		case s := <-sh.in:
			batch = append(batch, s)
			if len(batch) >= w.batchSize {
				sh.lost = errors.Join(sh.lost, w.flush(ctx, sh, batch))
				batch = make([]model.PositionSample, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				sh.lost = errors.Join(sh.lost, w.flush(ctx, sh, batch))
				batch = make([]model.PositionSample, 0, w.batchSize)
			}

		case reply := <-sh.flushReq:
			drain()
			reply <- errors.Join(sh.lost, w.flush(ctx, sh, batch))
			sh.lost = nil
			batch = make([]model.PositionSample, 0, w.batchSize)
		}
	}
}

func (w *Writer) flush(ctx context.Context, sh *shard, batch []model.PositionSample) error {
	if len(batch) == 0 {
		return nil
	}

	var err error
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		if err = w.sink.InsertSamples(ctx, batch); err == nil {
			break
		}
		w.logger.Warn("Batch insert failed",
			zap.Int("shard", sh.id),
			zap.Int("attempt", attempt),
			zap.Int("samples", len(batch)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if err != nil {
		w.failed.Add(int64(len(batch)))
		w.logger.Error("Dropping batch after retries", zap.Int("shard", sh.id), zap.Int("samples", len(batch)), zap.Error(err))
		return fmt.Errorf("shard %d: %w", sh.id, err)
	}
	w.written.Add(int64(len(batch)))

	seen := make(map[string]time.Time)
	for _, s := range batch {
		if s.Timestamp.After(seen[s.AGVID]) {
			seen[s.AGVID] = s.Timestamp
		}
	}
	if err := w.sink.TouchLastSeen(ctx, seen); err != nil {
		w.logger.Warn("Failed to update last_seen", zap.Int("shard", sh.id), zap.Error(err))
	}

	w.logger.Debug("Flushed batch", zap.Int("shard", sh.id), zap.Int("samples", len(batch)))
	return nil
}
