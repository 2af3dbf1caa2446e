package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Batcher buffers items and flushes them in groups based on a timer and a size threshold.
// It is used to persist prediction rows in chunks while a batch job is still running.
type Batcher[T any] struct {
	mu sync.Mutex

	flushInterval time.Duration
	maxBatchSize  int

	buffer  []T
	flushed int

	flushTimer *time.Timer
	stopCh     chan struct{}
	timerErr   error

	onFlush func([]T) error
}

// NewBatcher creates a batcher. A zero flushInterval disables the timer.
func NewBatcher[T any](maxBatchSize int, flushInterval time.Duration, onFlush func([]T) error) *Batcher[T] {
	if maxBatchSize <= 0 {
		maxBatchSize = 500
	}
	return &Batcher[T]{
		flushInterval: flushInterval,
		maxBatchSize:  maxBatchSize,
		buffer:        make([]T, 0, maxBatchSize),
		stopCh:        make(chan struct{}),
		onFlush:       onFlush,
	}
}

// Add buffers an item, flushing when the batch is full.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.stopCh:
		return fmt.Errorf("batcher is stopped")
	default:
	}

	if b.timerErr != nil {
		return b.timerErr
	}

	if len(b.buffer) == 0 {
		b.startFlushTimer()
	}
	b.buffer = append(b.buffer, item)

	if len(b.buffer) >= b.maxBatchSize {
		return b.flushLocked("max_batch_size")
	}
	return nil
}

// Flush flushes any buffered items immediately.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked("manual_flush")
}

// Stop flushes remaining items and rejects further adds. It returns the first error seen
// by a timer flush if the final flush succeeds.
func (b *Batcher[T]) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.stopCh:
		return nil
	default:
		close(b.stopCh)
	}

	if b.flushTimer != nil {
		b.flushTimer.Stop()
	}

	if err := b.flushLocked("shutdown"); err != nil {
		return err
	}
	return b.timerErr
}

// Flushed returns the number of items handed to onFlush successfully.
func (b *Batcher[T]) Flushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

// flushLocked must be called with the lock held.
func (b *Batcher[T]) flushLocked(reason string) error {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	if len(b.buffer) == 0 {
		return nil
	}

	log.Debug().
		Int("item_count", len(b.buffer)).
		Str("reason", reason).
		Msg("Flushing batch")

	items := b.buffer
	b.buffer = make([]T, 0, b.maxBatchSize)

	if err := b.onFlush(items); err != nil {
		return err
	}
	b.flushed += len(items)
	return nil
}

// startFlushTimer must be called with the lock held.
func (b *Batcher[T]) startFlushTimer() {
	if b.flushInterval <= 0 {
		return
	}
	if b.flushTimer != nil {
		b.flushTimer.Stop()
	}

	b.flushTimer = time.AfterFunc(b.flushInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.stopCh:
			return
		default:
		}

		if err := b.flushLocked("timer"); err != nil {
			log.Error().Err(err).Msg("Failed to flush batch on timer")
			if b.timerErr == nil {
				b.timerErr = err
			}
		}
	})
}
