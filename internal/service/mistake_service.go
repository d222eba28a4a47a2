package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ErrMistakeNotFound is returned when the user has no mistake entry for a question.
var ErrMistakeNotFound = errors.New("mistake not found")

// MistakeStore reads and updates the durable mistake book.
type MistakeStore interface {
	ListByUser(ctx context.Context, userID int64, includeMastered bool) ([]model.Mistake, error)
	MarkMastered(ctx context.Context, userID, questionID int64) (bool, error)
}

// MistakeEvent is the queue payload consumed by the mistake worker.
type MistakeEvent struct {
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}

// QuestionMistakeRank is one entry of the most-missed questions ranking.
type QuestionMistakeRank struct {
	QuestionID int64 `json:"question_id"`
	WrongCount int64 `json:"wrong_count"`
}

// MistakeService queues wrong answers for the mistake book and serves it.
type MistakeService struct {
	store MistakeStore
	rdb   *redis.Client
	now   func() time.Time
	log   zerolog.Logger
}

// NewMistakeService creates a new MistakeService.
func NewMistakeService(store MistakeStore, rdb *redis.Client, log zerolog.Logger) *MistakeService {
	return &MistakeService{
		store: store,
		rdb:   rdb,
		now:   time.Now,
		log:   log.With().Str("component", "mistake_service").Logger(),
	}
}

// RecordMistake queues one wrong answer and bumps the Redis counters in a
// single round trip. The durable write happens in the mistake worker.
func (s *MistakeService) RecordMistake(ctx context.Context, userID, questionID int64) error {
	raw, err := json.Marshal(MistakeEvent{
		UserID:     userID,
		QuestionID: questionID,
		Source:     grading.MistakeSourceExam,
		At:         s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode mistake: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistMistakesQueue, raw)
	pipe.Incr(ctx, config.CacheKey.UserMistakeCountKey(userID))
	pipe.ZIncrBy(ctx, config.CacheKey.QuestionMistakeRankKey(), 1, strconv.FormatInt(questionID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue mistake: %w", err)
	}
	return nil
}

// List returns the user's mistake book.
func (s *MistakeService) List(ctx context.Context, userID int64, includeMastered bool) ([]model.Mistake, error) {
	items, err := s.store.ListByUser(ctx, userID, includeMastered)
	if err != nil {
		return nil, fmt.Errorf("list mistakes: %w", err)
	}
	if items == nil {
		items = []model.Mistake{}
	}
	return items, nil
}

// MarkMastered flags a mistake as mastered. It reappears unmastered the next
// time the question is answered wrong.
func (s *MistakeService) MarkMastered(ctx context.Context, userID, questionID int64) error {
	ok, err := s.store.MarkMastered(ctx, userID, questionID)
	if err != nil {
		return fmt.Errorf("mark mastered: %w", err)
	}
	if !ok {
		return ErrMistakeNotFound
	}
	return nil
}

// Count returns how many wrong answers the user has accumulated.
func (s *MistakeService) Count(ctx context.Context, userID int64) (int64, error) {
	n, err := s.rdb.Get(ctx, config.CacheKey.UserMistakeCountKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get mistake count: %w", err)
	}
	return n, nil
}

// TopQuestions returns the limit most-missed questions, highest first.
func (s *MistakeService) TopQuestions(ctx context.Context, limit int) ([]QuestionMistakeRank, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.rdb.ZRevRangeWithScores(ctx, config.CacheKey.QuestionMistakeRankKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read mistake rank: %w", err)
	}

	ranks := make([]QuestionMistakeRank, 0, len(entries))
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			s.log.Warn().Str("member", member).Msg("Skipping malformed rank member")
			continue
		}
		ranks = append(ranks, QuestionMistakeRank{QuestionID: id, WrongCount: int64(z.Score)})
	}
	return ranks, nil
}
