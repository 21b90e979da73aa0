package provider

import (
	"errors"
	"fmt"
)

// Kind tells the chain what to do with a failure.
type Kind int

const (
	// Transient: try the next endpoint or credential.
	Transient Kind = iota
	// RateLimited: demote the credential or endpoint, then fall back.
	RateLimited
	// Terminal: the request itself is wrong; fail now, no retry.
	Terminal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

func TransientError(err error) error { return &Error{Kind: Transient, Err: err} }
func RateLimitError(err error) error { return &Error{Kind: RateLimited, Err: err} }
func TerminalError(err error) error  { return &Error{Kind: Terminal, Err: err} }

// KindOf defaults to Transient for errors that carry no kind.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Transient
}

var (
	ErrChainExhausted = errors.New("provider chain exhausted")
	ErrNoCredential   = errors.New("no usable credential for user")
)

type ExhaustedError struct {
	Chain    string
	Attempts []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("provider chain %q exhausted: no eligible endpoint", e.Chain)
	}
	return fmt.Sprintf("provider chain %q exhausted after %d attempts, last: %v", e.Chain, len(e.Attempts), e.Attempts[len(e.Attempts)-1])
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrChainExhausted }

func (e *ExhaustedError) Unwrap() []error { return e.Attempts }
