package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/model"
)

// barWriter is the part of Writer the buffered sink needs.
type barWriter interface {
	WriteBar(ctx context.Context, symbol string, bar model.Bar) error
}

type pendingWrite struct {
	symbol string
	bar    model.Bar
}

// BufferedWriter is a model.BarSink that publishes bars through a circuit
// breaker. While the circuit is open, bars are buffered locally and replayed
// in order once a probe write succeeds.
type BufferedWriter struct {
	writer barWriter
	cb     *CircuitBreaker
	log    *zap.Logger

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	flushMu sync.Mutex

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping w.
func NewBufferedWriter(w barWriter, cb *CircuitBreaker, maxBufferSize int, log *zap.Logger) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BufferedWriter{
		writer: w,
		cb:     cb,
		log:    log.Named("redis-buffer"),
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}
}

// SaveBar writes one bar through the circuit breaker. If the circuit is open
// the bar is buffered and nil is returned. A successful write first replays
// anything buffered so subscribers see bars in order.
func (bw *BufferedWriter) SaveBar(ctx context.Context, symbol string, bar model.Bar) error {
	if bw.PendingCount() > 0 {
		bw.enqueue(symbol, bar)
		return bw.Flush(ctx)
	}

	err := bw.cb.Execute(func() error {
		return bw.writer.WriteBar(ctx, symbol, bar)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.enqueue(symbol, bar)
		return nil
	}
	return err
}

func (bw *BufferedWriter) enqueue(symbol string, bar model.Bar) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{symbol: symbol, bar: bar})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush replays buffered writes through the breaker. Writes that fail stay
// buffered, together with everything after them.
func (bw *BufferedWriter) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	var err error
	for i, pw := range toFlush {
		err = bw.cb.Execute(func() error {
			return bw.writer.WriteBar(ctx, pw.symbol, pw.bar)
		})
		if err != nil {
			bw.requeue(toFlush[i:])
			break
		}
		flushed++
	}

	if flushed > 0 {
		bw.log.Info("flushed buffered writes", zap.Int("count", flushed))
		if bw.OnFlush != nil {
			bw.OnFlush(flushed)
		}
	}
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

// requeue puts rest back in front of anything buffered meanwhile.
func (bw *BufferedWriter) requeue(rest []pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	merged := make([]pendingWrite, 0, len(rest)+len(bw.buffer))
	merged = append(merged, rest...)
	merged = append(merged, bw.buffer...)
	if over := len(merged) - bw.maxBuf; over > 0 {
		merged = merged[over:]
	}
	bw.buffer = merged
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
