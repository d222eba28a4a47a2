package config

import (
	"fmt"
	"time"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPaperKey returns the cache key for an exam's full paper (questions and test cases).
func (r *CacheKeyStruct) ExamPaperKey(examID int64) string {
	return fmt.Sprintf("exam:%d:paper", examID)
}

// ExamListKey returns the cache key for the published exam catalog.
func (r *CacheKeyStruct) ExamListKey() string {
	return "exam:list"
}

// QuestionTestCasesKey returns the cache key for a question's test cases.
func (r *CacheKeyStruct) QuestionTestCasesKey(questionID int64) string {
	return fmt.Sprintf("question:%d:test_cases", questionID)
}

// UserMistakeCountKey returns the key of a user's total mistake counter.
func (r *CacheKeyStruct) UserMistakeCountKey(userID int64) string {
	return fmt.Sprintf("user:%d:mistakes", userID)
}

// QuestionMistakeRankKey returns the sorted set ranking questions by mistakes.
func (r *CacheKeyStruct) QuestionMistakeRankKey() string {
	return "question:mistake_rank"
}

// CodeRunRateKey returns the rate-limit counter key of a user for the given minute window.
func (r *CacheKeyStruct) CodeRunRateKey(userID int64, window time.Time) string {
	return fmt.Sprintf("ratelimit:code_run:%d:%d", userID, window.Unix()/60)
}

var CacheKey = NewCacheKeyStruct()
