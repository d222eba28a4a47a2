package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
)

const (
	MistakeBatchSize    = 50
	MistakeBatchTimeout = 2 * time.Second
	MistakePollTimeout  = 1 * time.Second
)

// MistakeWriter is the durable side of the mistake book.
type MistakeWriter interface {
	BulkUpsert(ctx context.Context, batch []repository.MistakeOccurrence) error
	Upsert(ctx context.Context, m repository.MistakeOccurrence) error
}

// MistakeWorker consumes persist_mistakes_queue and counts each wrong answer
// in wrong_questions.
type MistakeWorker struct {
	store MistakeWriter
	rdb   *redis.Client
	queue string
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
}

// NewMistakeWorker creates a new MistakeWorker.
func NewMistakeWorker(store MistakeWriter, rdb *redis.Client, log zerolog.Logger) *MistakeWorker {
	return &MistakeWorker{
		store:        store,
		rdb:          rdb,
		queue:        config.WorkerKey.PersistMistakesQueue,
		log:          log.With().Str("component", "mistake_worker").Logger(),
		batchSize:    MistakeBatchSize,
		batchTimeout: MistakeBatchTimeout,
		pollTimeout:  MistakePollTimeout,
	}
}

type queuedMistake struct {
	raw string
	occ repository.MistakeOccurrence
}

// Start runs the worker loop until ctx is cancelled, then flushes the
// pending batch and drains the queue. Call in a goroutine.
func (w *MistakeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]queuedMistake, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.flush(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, w.pollTimeout, w.queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				time.Sleep(w.pollTimeout)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		q, ok := w.decode(item[1])
		if !ok {
			continue
		}
		batch = append(batch, q)
	}
}

func (w *MistakeWorker) decode(raw string) (queuedMistake, bool) {
	var ev service.MistakeEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload, dropping")
		return queuedMistake{}, false
	}
	if ev.UserID <= 0 || ev.QuestionID <= 0 {
		w.log.Error().Int64("user_id", ev.UserID).Int64("question_id", ev.QuestionID).Msg("Incomplete payload, dropping")
		return queuedMistake{}, false
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return queuedMistake{
		raw: raw,
		occ: repository.MistakeOccurrence{
			UserID:     ev.UserID,
			QuestionID: ev.QuestionID,
			Source:     ev.Source,
			At:         ev.At,
		},
	}, true
}

// flush writes a batch in one statement. On failure each item is retried on
// its own and the ones that still fail go back on the queue.
func (w *MistakeWorker) flush(ctx context.Context, batch []queuedMistake) int {
	if len(batch) == 0 {
		return 0
	}

	occs := make([]repository.MistakeOccurrence, len(batch))
	for i, q := range batch {
		occs[i] = q.occ
	}
	err := w.store.BulkUpsert(ctx, occs)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Batch persisted")
		return len(batch)
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk upsert failed, using fallback")

	persisted := 0
	for _, q := range batch {
		if err := w.store.Upsert(ctx, q.occ); err != nil {
			w.log.Error().Err(err).
				Int64("user_id", q.occ.UserID).
				Int64("question_id", q.occ.QuestionID).
				Msg("Upsert failed, requeueing")
			if rerr := w.rdb.RPush(ctx, w.queue, q.raw).Err(); rerr != nil {
				w.log.Error().Err(rerr).Msg("Requeue failed, mistake lost")
			}
			continue
		}
		persisted++
	}
	return persisted
}

// drain persists whatever is left in the queue before shutdown. It stops at
// the first batch that cannot be fully written so requeued items are not
// spun on.
func (w *MistakeWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raws, err := w.rdb.LPopCount(ctx, w.queue, w.batchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}
		batch := make([]queuedMistake, 0, len(raws))
		for _, raw := range raws {
			if q, ok := w.decode(raw); ok {
				batch = append(batch, q)
			}
		}
		n := w.flush(ctx, batch)
		drained += n
		if n < len(batch) {
			break
		}
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
