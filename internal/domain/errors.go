package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrPositionExists = errors.New("position already exists for market")
	ErrRateLimited    = errors.New("period position limit reached")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrSigningFailed  = errors.New("signing failed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
)

// ErrorKind classifies an execution failure.
type ErrorKind string

const (
	KindMarketClosed          ErrorKind = "market_closed"
	KindInsufficientTime      ErrorKind = "insufficient_time"
	KindPositionExists        ErrorKind = "position_exists"
	KindRetriesExhausted      ErrorKind = "retries_exhausted"
	KindRateLimited           ErrorKind = "rate_limited"
	KindInvalidPrice          ErrorKind = "invalid_price"
	KindInvalidArbitrage      ErrorKind = "invalid_arbitrage"
	KindInsufficientLiquidity ErrorKind = "insufficient_liquidity"
	KindInsufficientBalance   ErrorKind = "insufficient_balance"
	KindPartialFill           ErrorKind = "partial_fill"
	KindOrderFailed           ErrorKind = "order_failed"
	KindCollaborator          ErrorKind = "collaborator"
)

var rejectionKinds = map[ErrorKind]bool{
	KindMarketClosed:          true,
	KindInsufficientTime:      true,
	KindPositionExists:        true,
	KindRetriesExhausted:      true,
	KindRateLimited:           true,
	KindInvalidPrice:          true,
	KindInvalidArbitrage:      true,
	KindInsufficientLiquidity: true,
	KindInsufficientBalance:   true,
}

// CodedError is implemented by collaborator errors that carry a
// machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

// ExecError is the typed result of a failed or rejected execution.
type ExecError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsRejection reports whether the error is a precondition rejection: no order
// was placed and no state changed.
func (e *ExecError) IsRejection() bool {
	return rejectionKinds[e.Kind]
}

// Reject builds a precondition rejection.
func Reject(kind ErrorKind, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, lifting a collaborator code when present.
func Wrap(kind ErrorKind, err error) *ExecError {
	e := &ExecError{Kind: kind, Message: err.Error(), Err: err}
	var coded CodedError
	if errors.As(err, &coded) {
		e.Code = coded.ErrorCode()
	}
	return e
}

// KindOf returns the kind of an ExecError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
