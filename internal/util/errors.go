package util

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAlreadyVoted       = errors.New("already voted on this question")
	ErrDailyQuotaExceeded = errors.New("daily vetting quota exceeded")
	ErrInvalidVoteAction  = errors.New("invalid vote action")
	ErrCourseNotFound     = errors.New("course not found")
	ErrCourseExists       = errors.New("course code already exists")
)
