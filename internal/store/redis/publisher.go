package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"trendscope/internal/model"
)

const defaultMaxBuffered = 10000

// eventWriter is the slice of Writer the publisher needs.
type eventWriter interface {
	WriteEvents(ctx context.Context, batch model.EventBatch) error
}

// BufferedPublisher writes event batches through a circuit breaker. While
// the breaker is open, batches are buffered in memory (oldest dropped
// first) and replayed before the next successful write.
type BufferedPublisher struct {
	writer eventWriter
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []model.EventBatch
	maxBuf int

	// OnBuffer and OnFlush report buffer activity for metrics.
	OnBuffer func(pending int)
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps w. maxBuffered <= 0 selects the default.
func NewBufferedPublisher(w eventWriter, cb *CircuitBreaker, maxBuffered int) *BufferedPublisher {
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	return &BufferedPublisher{writer: w, cb: cb, maxBuf: maxBuffered}
}

// Publish implements model.EventPublisher. A batch rejected by an open
// breaker is buffered and reported as success; a failed write is buffered
// and its error returned.
func (p *BufferedPublisher) Publish(ctx context.Context, batch model.EventBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	err := p.cb.Execute(func() error {
		if err := p.flush(ctx); err != nil {
			return err
		}
		return p.writer.WriteEvents(ctx, batch)
	})
	if err == nil {
		return nil
	}
	p.enqueue(batch)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (p *BufferedPublisher) enqueue(batch model.EventBatch) {
	p.mu.Lock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, batch)
	n := len(p.buffer)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer(n)
	}
}

// flush replays buffered batches in order. On error the unsent ones go
// back to the front of the buffer.
func (p *BufferedPublisher) flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	for i, b := range pending {
		if err := p.writer.WriteEvents(ctx, b); err != nil {
			p.mu.Lock()
			p.buffer = append(pending[i:], p.buffer...)
			p.mu.Unlock()
			return err
		}
	}
	log.Printf("[redis-publisher] flushed %d buffered batches", len(pending))
	if p.OnFlush != nil {
		p.OnFlush(len(pending))
	}
	return nil
}

// Pending returns the number of buffered batches.
func (p *BufferedPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
