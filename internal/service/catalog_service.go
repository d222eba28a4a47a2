package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
)

// ImportError carries per-field validation failures of an exam import.
type ImportError struct {
	Fields map[string]string
}

func (e *ImportError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "invalid exam import: " + strings.Join(parts, "; ")
}

// ExamStore is the exam persistence the catalog reads from.
type ExamStore interface {
	GetByID(ctx context.Context, id int64) (*model.Exam, error)
	List(ctx context.Context) ([]model.Exam, error)
	Import(ctx context.Context, imp *model.ExamImport) (int64, error)
}

// QuestionStore is the question persistence the catalog reads from.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID int64) ([]model.ExamQuestion, error)
	GetByID(ctx context.Context, id int64) (*model.Question, error)
	ListTestCases(ctx context.Context, questionIDs []int64) (map[int64][]model.TestCase, error)
}

// CatalogService serves exams and questions, caching full papers in Redis.
type CatalogService struct {
	exams     ExamStore
	questions QuestionStore
	rdb       *redis.Client
	ttl       time.Duration
	log       zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(exams ExamStore, questions QuestionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "catalog_service").Logger(),
	}
}

// ListExams returns the exam catalog without questions.
func (s *CatalogService) ListExams(ctx context.Context) ([]model.Exam, error) {
	key := config.CacheKey.ExamListKey()
	var exams []model.Exam
	if s.cacheGet(ctx, key, &exams) {
		return exams, nil
	}

	exams, err := s.exams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	s.cacheSet(ctx, key, exams)
	return exams, nil
}

// GetExam returns an exam header.
func (s *CatalogService) GetExam(ctx context.Context, examID int64) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// LoadPaper returns the exam with its ordered questions and their test cases.
// The order is stable across calls.
func (s *CatalogService) LoadPaper(ctx context.Context, examID int64) (*model.Exam, error) {
	key := config.CacheKey.ExamPaperKey(examID)
	cached := &model.Exam{}
	if s.cacheGet(ctx, key, cached) {
		return cached, nil
	}

	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	ids := make([]int64, 0, len(questions))
	for _, eq := range questions {
		if eq.Question.Kind == model.KindCode {
			ids = append(ids, eq.Question.ID)
		}
	}
	cases, err := s.questions.ListTestCases(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	for i := range questions {
		questions[i].TestCases = cases[questions[i].Question.ID]
	}

	exam.Questions = questions
	exam.QuestionCount = len(questions)
	s.cacheSet(ctx, key, exam)

	s.log.Debug().Int64("exam_id", examID).Int("questions", len(questions)).Msg("Paper loaded from database")
	return exam, nil
}

// LoadQuestion returns a question and its test cases.
func (s *CatalogService) LoadQuestion(ctx context.Context, questionID int64) (*model.Question, []model.TestCase, error) {
	q, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrQuestionNotFound
		}
		return nil, nil, fmt.Errorf("get question: %w", err)
	}

	key := config.CacheKey.QuestionTestCasesKey(questionID)
	var cached []model.TestCase
	if s.cacheGet(ctx, key, &cached) {
		return q, cached, nil
	}
	cases, err := s.questions.ListTestCases(ctx, []int64{questionID})
	if err != nil {
		return nil, nil, fmt.Errorf("list test cases: %w", err)
	}
	list := cases[questionID]
	if list == nil {
		list = []model.TestCase{}
	}
	s.cacheSet(ctx, key, list)
	return q, list, nil
}

// Import validates and stores a new exam, then drops the cached catalog list.
func (s *CatalogService) Import(ctx context.Context, imp *model.ExamImport) (int64, error) {
	if err := s.Validate(imp); err != nil {
		return 0, err
	}

	id, err := s.exams.Import(ctx, imp)
	if err != nil {
		return 0, fmt.Errorf("import exam: %w", err)
	}
	s.invalidate(ctx, config.CacheKey.ExamListKey())

	s.log.Info().Int64("exam_id", id).Str("title", imp.Title).Int("questions", len(imp.Questions)).Msg("Exam imported")
	return id, nil
}

// Validate checks an import without storing it. Failures are *ImportError.
func (s *CatalogService) Validate(imp *model.ExamImport) error {
	if fields := validator.Struct(imp); fields != nil {
		return &ImportError{Fields: fields}
	}
	for i, q := range imp.Questions {
		if q.Kind != model.KindCode.String() && len(q.TestCases) > 0 {
			return &ImportError{Fields: map[string]string{
				fmt.Sprintf("questions[%d].test_cases", i): "test cases are only allowed on code questions",
			}}
		}
	}
	return nil
}

// RefreshPaper drops and reloads an exam's cached paper, including the
// cached test cases of its questions.
func (s *CatalogService) RefreshPaper(ctx context.Context, examID int64) (*model.Exam, error) {
	keys := []string{config.CacheKey.ExamPaperKey(examID), config.CacheKey.ExamListKey()}
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	for _, eq := range questions {
		keys = append(keys, config.CacheKey.QuestionTestCasesKey(eq.Question.ID))
	}
	s.invalidate(ctx, keys...)
	return s.LoadPaper(ctx, examID)
}

// cacheGet is best effort: any Redis or decode failure counts as a miss.
func (s *CatalogService) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	if s.rdb == nil {
		return false
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache decode failed")
		return false
	}
	return true
}

func (s *CatalogService) cacheSet(ctx context.Context, key string, v interface{}) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func (s *CatalogService) invalidate(ctx context.Context, keys ...string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn().Err(err).Strs("keys", keys).Msg("Cache invalidation failed")
	}
}
