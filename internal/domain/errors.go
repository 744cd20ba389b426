package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindRevert    ErrorKind = "revert"
)

// ChainError is returned by every ChainClient operation.
type ChainError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return false
}

func IsRevert(err error) bool {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind == KindRevert
	}
	return false
}

var (
	ErrNotFound            = errors.New("not found")
	ErrPositionNotActive   = errors.New("position is not active")
	ErrReceiptTimeout      = errors.New("timed out waiting for receipt")
	ErrExplorerDisabled    = errors.New("explorer api key not configured")
	ErrExplorerUnavailable = errors.New("explorer unavailable")
	ErrSellQueued          = errors.New("gradual sell already queued for token")
)
