package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotUnderstood = errors.New("message not understood")
	ErrUnfulfillable = errors.New("offer cannot be fulfilled")
	ErrNotStarted    = errors.New("trading session not started")
	ErrReserved      = errors.New("book reserved by another round")
)
