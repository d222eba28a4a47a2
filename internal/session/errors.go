package session

import "errors"

var (
	ErrInvalidTransition = errors.New("session: invalid state transition")
	ErrNoQuestions       = errors.New("session: exam has no questions")
	ErrUnknownQuestion   = errors.New("session: question is not part of this exam")
	ErrSessionNotFound   = errors.New("session: not found")
	ErrPersistence       = errors.New("session: submission could not be persisted")
	ErrIndexOutOfRange   = errors.New("session: question index out of range")
)
