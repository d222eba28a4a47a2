package model

import (
	"encoding/json"
	"fmt"
)

// QuestionKind is the closed set of gradable question kinds.
type QuestionKind uint8

const (
	KindChoice QuestionKind = iota + 1
	KindJudge
	KindFill
	KindCode
)

var kindNames = map[QuestionKind]string{
	KindChoice: "choice",
	KindJudge:  "judge",
	KindFill:   "fill",
	KindCode:   "code",
}

// ParseQuestionKind maps the stored string form ("choice", "judge", "fill", "code") to a kind.
func ParseQuestionKind(s string) (QuestionKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown question kind %q", s)
}

func (k QuestionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether k is one of the declared kinds.
func (k QuestionKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k QuestionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *QuestionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	// Unknown kinds decode to the zero kind and grade as incorrect.
	*k, _ = ParseQuestionKind(s)
	return nil
}

// Question is a catalog question. The engine treats it as read-only.
type Question struct {
	ID          int64        `json:"id"`
	Kind        QuestionKind `json:"kind"`
	Category    string       `json:"category,omitempty"`
	Prompt      string       `json:"prompt"`
	Answer      string       `json:"answer"`
	Options     []string     `json:"options,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}

// TestCase is one stdin/stdout vector of a code question.
type TestCase struct {
	ID             int64  `json:"id"`
	QuestionID     int64  `json:"question_id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Score          int    `json:"score"`
	IsSample       bool   `json:"is_sample"`
	OrderNum       int    `json:"order_num"`
}

// QuestionForUser is a question without its canonical answer or test vectors.
type QuestionForUser struct {
	ID       int64        `json:"id"`
	Kind     QuestionKind `json:"kind"`
	Prompt   string       `json:"prompt"`
	Options  []string     `json:"options,omitempty"`
	Score    int          `json:"score"`
	OrderNum int          `json:"order_num"`
}
