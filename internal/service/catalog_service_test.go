package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type fakeExamStore struct {
	mu       sync.Mutex
	exams    map[int64]*model.Exam
	gets     int
	imported []*model.ExamImport
}

func (f *fakeExamStore) GetByID(_ context.Context, id int64) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) List(_ context.Context) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeExamStore) Import(_ context.Context, imp *model.ExamImport) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, imp)
	return int64(100 + len(f.imported)), nil
}

type fakeQuestionStore struct {
	questions map[int64][]model.ExamQuestion
	cases     map[int64][]model.TestCase
	byID      map[int64]model.Question
	caseCalls int
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID int64) ([]model.ExamQuestion, error) {
	return append([]model.ExamQuestion(nil), f.questions[examID]...), nil
}

func (f *fakeQuestionStore) GetByID(_ context.Context, id int64) (*model.Question, error) {
	q, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &q, nil
}

func (f *fakeQuestionStore) ListTestCases(_ context.Context, ids []int64) (map[int64][]model.TestCase, error) {
	f.caseCalls++
	out := make(map[int64][]model.TestCase)
	for _, id := range ids {
		if cs, ok := f.cases[id]; ok {
			out[id] = cs
		}
	}
	return out, nil
}

func catalogFixture() (*fakeExamStore, *fakeQuestionStore) {
	exams := &fakeExamStore{exams: map[int64]*model.Exam{
		1: {ID: 1, Title: "Python basics", TimeLimitMinutes: 30, TotalScore: 30, PassingScore: 18},
	}}
	choice := model.Question{ID: 10, Kind: model.KindChoice, Prompt: "Pick", Answer: "B", Options: []string{"A", "B"}}
	code := model.Question{ID: 11, Kind: model.KindCode, Prompt: "Double it"}
	questions := &fakeQuestionStore{
		questions: map[int64][]model.ExamQuestion{1: {
			{Question: choice, Score: 10, OrderNum: 1},
			{Question: code, Score: 20, OrderNum: 2},
		}},
		cases: map[int64][]model.TestCase{11: {
			{ID: 1, QuestionID: 11, Input: "2", ExpectedOutput: "4", Score: 10, IsSample: true},
			{ID: 2, QuestionID: 11, Input: "5", ExpectedOutput: "10", Score: 10},
		}},
		byID: map[int64]model.Question{10: choice, 11: code},
	}
	return exams, questions
}

func TestLoadPaperAttachesTestCasesInOrder(t *testing.T) {
	_, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())

	exam, err := svc.LoadPaper(context.Background(), 1)
	if err != nil {
		t.Fatalf("LoadPaper: %v", err)
	}
	if exam.QuestionCount != 2 || len(exam.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(exam.Questions))
	}
	if exam.Questions[0].Question.ID != 10 || exam.Questions[1].Question.ID != 11 {
		t.Fatalf("unexpected order: %v", exam.QuestionIDs())
	}
	if len(exam.Questions[0].TestCases) != 0 {
		t.Fatalf("choice question should carry no test cases")
	}
	if len(exam.Questions[1].TestCases) != 2 {
		t.Fatalf("expected 2 test cases, got %d", len(exam.Questions[1].TestCases))
	}
}

func TestLoadPaperIsServedFromCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := svc.LoadPaper(ctx, 1)
	if err != nil {
		t.Fatalf("LoadPaper: %v", err)
	}
	if !mr.Exists(config.CacheKey.ExamPaperKey(1)) {
		t.Fatalf("expected the paper to be cached")
	}
	if ttl := mr.TTL(config.CacheKey.ExamPaperKey(1)); ttl != time.Minute {
		t.Fatalf("expected a one minute TTL, got %v", ttl)
	}

	second, err := svc.LoadPaper(ctx, 1)
	if err != nil {
		t.Fatalf("LoadPaper (cached): %v", err)
	}
	if exams.gets != 1 {
		t.Fatalf("expected one database read, got %d", exams.gets)
	}
	if second.Questions[1].Question.Kind != model.KindCode {
		t.Fatalf("kind lost in cache roundtrip: %v", second.Questions[1].Question.Kind)
	}
	if len(second.Questions[1].TestCases) != len(first.Questions[1].TestCases) {
		t.Fatalf("test cases lost in cache roundtrip")
	}
}

func TestLoadPaperFallsBackWhenCacheIsCorrupt(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())

	if err := mr.Set(config.CacheKey.ExamPaperKey(1), "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	exam, err := svc.LoadPaper(context.Background(), 1)
	if err != nil {
		t.Fatalf("LoadPaper: %v", err)
	}
	if len(exam.Questions) != 2 {
		t.Fatalf("expected a fresh load, got %d questions", len(exam.Questions))
	}
}

func TestLoadPaperUnknownExam(t *testing.T) {
	_, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())

	if _, err := svc.LoadPaper(context.Background(), 99); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestLoadQuestionCachesTestCases(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		q, cases, err := svc.LoadQuestion(ctx, 11)
		if err != nil {
			t.Fatalf("LoadQuestion: %v", err)
		}
		if q.Kind != model.KindCode || len(cases) != 2 {
			t.Fatalf("unexpected question %+v with %d cases", q, len(cases))
		}
	}
	if questions.caseCalls != 1 {
		t.Fatalf("expected one test case query, got %d", questions.caseCalls)
	}
	if !mr.Exists(config.CacheKey.QuestionTestCasesKey(11)) {
		t.Fatalf("expected test cases to be cached")
	}

	if _, _, err := svc.LoadQuestion(ctx, 404); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestRefreshPaperDropsCachedEntries(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, _, err := svc.LoadQuestion(ctx, 11); err != nil {
		t.Fatalf("LoadQuestion: %v", err)
	}
	if _, err := svc.LoadPaper(ctx, 1); err != nil {
		t.Fatalf("LoadPaper: %v", err)
	}
	if _, err := svc.RefreshPaper(ctx, 1); err != nil {
		t.Fatalf("RefreshPaper: %v", err)
	}
	if exams.gets != 2 {
		t.Fatalf("expected the refresh to hit the database, got %d reads", exams.gets)
	}
	if mr.Exists(config.CacheKey.QuestionTestCasesKey(11)) {
		t.Fatalf("expected cached test cases to be dropped")
	}
}

func TestImportValidatesAndInvalidatesList(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.ListExams(ctx); err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if !mr.Exists(config.CacheKey.ExamListKey()) {
		t.Fatalf("expected the list to be cached")
	}

	imp := &model.ExamImport{
		Title:            "Loops",
		TimeLimitMinutes: 20,
		Questions: []model.ExamQuestionImport{
			{Kind: "fill", Prompt: "Keyword for a loop", Answer: "for", Score: 5},
		},
	}
	id, err := svc.Import(ctx, imp)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if id != 101 {
		t.Fatalf("unexpected id %d", id)
	}
	if mr.Exists(config.CacheKey.ExamListKey()) {
		t.Fatalf("expected the list cache to be invalidated")
	}
}

func TestImportRejectsInvalidPayloads(t *testing.T) {
	_, rdb := newTestRedis(t)
	exams, questions := catalogFixture()
	svc := NewCatalogService(exams, questions, rdb, time.Minute, zerolog.Nop())

	tests := []struct {
		name  string
		imp   *model.ExamImport
		field string
	}{
		{
			name:  "no questions",
			imp:   &model.ExamImport{Title: "Empty", TimeLimitMinutes: 10},
			field: "questions",
		},
		{
			name: "test cases on a choice question",
			imp: &model.ExamImport{
				Title: "Mixed", TimeLimitMinutes: 10,
				Questions: []model.ExamQuestionImport{{
					Kind: "choice", Prompt: "Pick", Answer: "A", Score: 5,
					TestCases: []model.TestCaseImport{{ExpectedOutput: "A", Score: 5}},
				}},
			},
			field: "questions[0].test_cases",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Import(context.Background(), tt.imp)
			var ie *ImportError
			if !errors.As(err, &ie) {
				t.Fatalf("expected ImportError, got %v", err)
			}
			if _, ok := ie.Fields[tt.field]; !ok {
				t.Fatalf("expected an error on %s, got %v", tt.field, ie.Fields)
			}
		})
	}
	if len(exams.imported) != 0 {
		t.Fatalf("invalid imports must not reach the store")
	}
}
