package domain

import "errors"

var (
	ErrEmptyPrompt         = errors.New("prompt text is required")
	ErrNoModels            = errors.New("models are required to start a new session")
	ErrInsufficientBalance = errors.New("insufficient credits")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
)
