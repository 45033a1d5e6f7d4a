package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/legasicrypto/borrowing-protocol/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. It
// runs independently from the engine goroutine. The persist channel
// uses BLOCKING sends from the engine, so if this worker falls behind
// the engine stalls rather than losing an event.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan EventRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	lastFlushed  int64
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan EventRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence loop. It batches incoming rows and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log := observability.NewLogger("persistence")

	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case row, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops events; it retries until the write succeeds or the context is
// cancelled, in which case it attempts one final flush with a
// background context so the batch survives shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) error {
	log := observability.NewLogger("persistence")

	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), batch)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	w.lastFlushed = batch[len(batch)-1].Sequence

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}

	return nil
}

// GetWriter returns the underlying writer
func (w *Worker) GetWriter() *EventLogWriter {
	return w.writer
}

// LastFlushedSequence reports the highest sequence committed to the
// event log. Only safe to read once Run has returned.
func (w *Worker) LastFlushedSequence() int64 {
	return w.lastFlushed
}
