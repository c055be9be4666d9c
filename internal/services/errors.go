package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the fine-grained failure tag carried by every classified error.
type Kind string

const (
	KindRateLimited         Kind = "rate_limited"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindContentRejected     Kind = "content_rejected"
	KindInvalidInput        Kind = "invalid_input"
	KindUnknown             Kind = "unknown"
	KindValidation          Kind = "validation"
	KindConfiguration       Kind = "configuration"
	KindInternal            Kind = "internal"
	KindCancelled           Kind = "cancelled"
)

// Class groups kinds into the categories the orchestrator reacts to.
type Class string

const (
	ClassTransient     Class = "TransientProviderError"
	ClassPermanent     Class = "PermanentProviderError"
	ClassValidation    Class = "ValidationError"
	ClassConfiguration Class = "ConfigurationError"
	ClassInternal      Class = "InternalError"
	ClassCancelled     Class = "Cancelled"
)

// Sentinel markers, one per class. errors.Is(err, ErrTransient) reports whether
// err carries a kind in the transient class.
var (
	ErrTransient     = errors.New("transient provider error")
	ErrPermanent     = errors.New("permanent provider error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrInternal      = errors.New("internal error")
	ErrCancelled     = errors.New("cancelled")
)

// Class maps the kind onto its class.
func (k Kind) Class() Class {
	switch k {
	case KindRateLimited, KindProviderUnavailable:
		return ClassTransient
	case KindContentRejected, KindInvalidInput, KindUnknown, "":
		return ClassPermanent
	case KindValidation:
		return ClassValidation
	case KindConfiguration:
		return ClassConfiguration
	case KindCancelled:
		return ClassCancelled
	default:
		return ClassInternal
	}
}

func (c Class) marker() error {
	switch c {
	case ClassTransient:
		return ErrTransient
	case ClassPermanent:
		return ErrPermanent
	case ClassValidation:
		return ErrValidation
	case ClassConfiguration:
		return ErrConfiguration
	case ClassCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}

// Error is the tagged failure value passed between stages, retry, fallback and
// the job record.
type Error struct {
	Kind      Kind
	Stage     string
	Provider  string
	Operation string
	Message   string
	Attempts  int
	Issues    []string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := buildDetail(e.Stage, e.Provider, e.Operation, e.Message)
	var b strings.Builder
	b.WriteString(string(e.Kind.Class()))
	b.WriteString(": ")
	b.WriteString(detail)
	if len(e.Issues) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Issues, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the class marker so callers can test with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return target == e.Kind.Class().marker()
}

// New builds a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: strings.TrimSpace(message)}
}

// Wrap builds a classified error that includes stage context and the cause.
func Wrap(kind Kind, stage, operation, message string, err error) error {
	return &Error{
		Kind:      kind,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// Validation builds a validation failure listing the gate issues.
func Validation(stage string, issues []string) error {
	return &Error{
		Kind:    KindValidation,
		Stage:   stage,
		Message: "output rejected by validation gate",
		Issues:  append([]string(nil), issues...),
	}
}

// KindOf classifies any error. Unclassified errors are KindUnknown, context
// cancellation is KindCancelled and deadline expiry KindProviderUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) && tagged != nil {
		if tagged.Kind == "" {
			return KindUnknown
		}
		return tagged.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindProviderUnavailable
	default:
		return KindUnknown
	}
}

// ClassOf returns the class of err, or "" for nil.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	return KindOf(err).Class()
}

// Annotate returns a copy of err as *Error with fn applied. Unclassified
// errors are wrapped first so the annotation never loses the cause.
func Annotate(err error, fn func(*Error)) error {
	if err == nil {
		return nil
	}
	var out Error
	var tagged *Error
	if errors.As(err, &tagged) && tagged != nil {
		out = *tagged
		out.Issues = append([]string(nil), tagged.Issues...)
	} else {
		out = Error{Kind: KindOf(err), Err: err}
	}
	if fn != nil {
		fn(&out)
	}
	return &out
}

// Details is a flattened view of a classified error for records and logs.
type Details struct {
	Kind      Kind
	Class     Class
	Stage     string
	Provider  string
	Operation string
	Message   string
	Attempts  int
	Issues    []string
	Cause     string
}

// Describe flattens err into Details. Unclassified errors report their text as
// the message.
func Describe(err error) Details {
	if err == nil {
		return Details{}
	}
	kind := KindOf(err)
	d := Details{Kind: kind, Class: kind.Class()}
	var tagged *Error
	if errors.As(err, &tagged) && tagged != nil {
		d.Stage = tagged.Stage
		d.Provider = tagged.Provider
		d.Operation = tagged.Operation
		d.Message = tagged.Message
		d.Attempts = tagged.Attempts
		d.Issues = append([]string(nil), tagged.Issues...)
		if tagged.Err != nil {
			d.Cause = tagged.Err.Error()
		}
	}
	if d.Message == "" {
		d.Message = err.Error()
	}
	return d
}

func buildDetail(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "service failure"
	}
	return strings.Join(kept, ": ")
}

// Errorf is a shorthand for a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
