package contract

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("action already handled")
	ErrExpired         = errors.New("action expired")
	ErrNotConfirmable  = errors.New("action has no executable suggestion")
	ErrValidation      = errors.New("validation failed")
)
