package types

import "fmt"

// Kind classifies an engine failure.
type Kind string

// Error kinds produced by the metrics engine.
const (
	KindMalformedTrace    Kind = "malformed_trace"
	KindMissingMilestone  Kind = "missing_milestone"
	KindTraceTooShort     Kind = "trace_too_short"
	KindTraceBusy         Kind = "trace_busy"
	KindDistributionInput Kind = "distribution_input"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrMalformedTrace    = &Error{Kind: KindMalformedTrace}
	ErrMissingMilestone  = &Error{Kind: KindMissingMilestone}
	ErrTraceTooShort     = &Error{Kind: KindTraceTooShort}
	ErrTraceBusy         = &Error{Kind: KindTraceBusy}
	ErrDistributionInput = &Error{Kind: KindDistributionInput}
)

// Error is a kind-tagged engine failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional cause
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
