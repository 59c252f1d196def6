package provider

import (
	"errors"
	"fmt"
)

// Reason classifies why a provider could not serve a request.
type Reason string

const (
	ReasonRateLimited Reason = "rate-limited"
	ReasonBlocked     Reason = "blocked"
	ReasonNoData      Reason = "no-data"
	ReasonTransient   Reason = "transient-error"
)

var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrBlocked     = errors.New("provider blocked")
	ErrNoData      = errors.New("provider returned no data")
	ErrTransient   = errors.New("provider transient error")
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonBlocked:
		return ErrBlocked
	case ReasonNoData:
		return ErrNoData
	default:
		return ErrTransient
	}
}

// Retryable reports whether the same provider may be asked again.
func (r Reason) Retryable() bool { return r == ReasonTransient }

// Failure is the typed error every adapter returns.
type Failure struct {
	Provider string
	Reason   Reason
	Status   int // HTTP status when known
	Err      error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Provider, f.Reason)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Reason.sentinel()}
	}
	return []error{f.Reason.sentinel(), f.Err}
}

// Fail wraps err as a failure of the given reason.
func Fail(provider string, reason Reason, err error) *Failure {
	return &Failure{Provider: provider, Reason: reason, Err: err}
}

// Failf builds a failure with a formatted message.
func Failf(provider string, reason Reason, format string, args ...any) *Failure {
	return &Failure{Provider: provider, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the failure reason, treating unknown errors as transient.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonTransient
}
