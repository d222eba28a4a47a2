package model

import "time"

// Exam is the immutable definition a session is started from.
type Exam struct {
	ID               int64          `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Category         string         `json:"category,omitempty"`
	Difficulty       string         `json:"difficulty,omitempty"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
	TotalScore       int            `json:"total_score"`
	PassingScore     int            `json:"passing_score"`
	QuestionCount    int            `json:"question_count"`
	Questions        []ExamQuestion `json:"questions,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ExamQuestion binds a catalog question to an exam with its assigned score and position.
type ExamQuestion struct {
	Question  Question   `json:"question"`
	Score     int        `json:"score"`
	OrderNum  int        `json:"order_num"`
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// TimeLimit returns the exam time budget.
func (e *Exam) TimeLimit() time.Duration {
	return time.Duration(e.TimeLimitMinutes) * time.Minute
}

// QuestionIDs returns the question ids in exam order.
func (e *Exam) QuestionIDs() []int64 {
	ids := make([]int64, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.Question.ID
	}
	return ids
}

// Paper returns the user-facing view of the exam.
func (e *Exam) Paper() ExamPaper {
	questions := make([]QuestionForUser, len(e.Questions))
	for i, eq := range e.Questions {
		questions[i] = QuestionForUser{
			ID:       eq.Question.ID,
			Kind:     eq.Question.Kind,
			Prompt:   eq.Question.Prompt,
			Options:  eq.Question.Options,
			Score:    eq.Score,
			OrderNum: eq.OrderNum,
		}
	}
	return ExamPaper{
		ExamID:           e.ID,
		Title:            e.Title,
		TimeLimitMinutes: e.TimeLimitMinutes,
		TotalScore:       e.TotalScore,
		PassingScore:     e.PassingScore,
		Questions:        questions,
	}
}

// ExamPaper is what a user sees while taking the exam (no answers, no test cases).
type ExamPaper struct {
	ExamID           int64             `json:"exam_id"`
	Title            string            `json:"title"`
	TimeLimitMinutes int               `json:"time_limit_minutes"`
	TotalScore       int               `json:"total_score"`
	PassingScore     int               `json:"passing_score"`
	Questions        []QuestionForUser `json:"questions"`
}

// ExamImport is the JSON shape accepted by the catalog seeder.
type ExamImport struct {
	Title            string               `json:"title" validate:"required,min=3,max=255"`
	Description      string               `json:"description"`
	Category         string               `json:"category"`
	Difficulty       string               `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	TimeLimitMinutes int                  `json:"time_limit_minutes" validate:"required,min=1,max=480"`
	PassingScore     int                  `json:"passing_score" validate:"min=0"`
	Questions        []ExamQuestionImport `json:"questions" validate:"required,min=1,dive"`
}

// ExamQuestionImport is one question inside an ExamImport.
type ExamQuestionImport struct {
	Kind        string           `json:"kind" validate:"required,question_kind"`
	Category    string           `json:"category"`
	Prompt      string           `json:"prompt" validate:"required"`
	Answer      string           `json:"answer"`
	Options     []string         `json:"options"`
	Explanation string           `json:"explanation"`
	Score       int              `json:"score" validate:"required,min=1"`
	TestCases   []TestCaseImport `json:"test_cases" validate:"dive"`
}

// TestCaseImport is one test case inside an ExamQuestionImport.
type TestCaseImport struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output" validate:"required"`
	Score          int    `json:"score" validate:"min=0"`
	IsSample       bool   `json:"is_sample"`
}
