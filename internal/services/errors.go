package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool     = errors.New("external tool error")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrTransient        = errors.New("transient failure")
	ErrUnsupported      = errors.New("unsupported input")
	ErrResourceExceeded = errors.New("resource exceeded")
	ErrCanceled         = errors.New("canceled")
)

// ErrorKind is the stable classification carried alongside stage failures.
type ErrorKind string

const (
	ErrorKindUnknown          ErrorKind = "unknown"
	ErrorKindExternalTool     ErrorKind = "external_tool"
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindConfiguration    ErrorKind = "configuration"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindUnsupported      ErrorKind = "unsupported"
	ErrorKindResourceExceeded ErrorKind = "resource_exceeded"
	ErrorKindCanceled         ErrorKind = "canceled"
)

var markerKinds = []struct {
	marker error
	kind   ErrorKind
	hint   string
}{
	{ErrValidation, ErrorKindValidation, "check the submitted URL and options"},
	{ErrUnsupported, ErrorKindUnsupported, "the source format or site is not supported"},
	{ErrResourceExceeded, ErrorKindResourceExceeded, "the source exceeds configured size or duration limits"},
	{ErrConfiguration, ErrorKindConfiguration, "fix the configuration and retry the task"},
	{ErrNotFound, ErrorKindNotFound, "verify the referenced file or task still exists"},
	{ErrCanceled, ErrorKindCanceled, "the task was removed while running"},
	{ErrTimeout, ErrorKindTimeout, "raise the stage timeout or check the external service"},
	{ErrTransient, ErrorKindTransient, "temporary failure; the stage will be retried"},
	{ErrExternalTool, ErrorKindExternalTool, "inspect the tool output in the daemon log"},
}

// StageError tags a failure with a marker sentinel and the stage/operation that
// produced it.
type StageError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *StageError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// ErrorKind reports the classification of the wrapped marker.
func (e *StageError) ErrorKind() string {
	return string(KindOf(e.Marker))
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later retry classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &StageError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a classified error used for logging
// and for the failure message persisted on a task.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts the classification and context of err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: ErrorKindUnknown}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		details.Stage = stageErr.Stage
		details.Operation = stageErr.Operation
		details.Message = stageErr.Message
		details.Cause = stageErr.Cause
		if details.Cause != nil {
			if msg := strings.TrimSpace(details.Cause.Error()); msg != "" && details.Message != "" {
				details.Message = details.Message + ": " + msg
			} else if details.Message == "" {
				details.Message = msg
			}
		}
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	for _, entry := range markerKinds {
		if entry.kind == details.Kind {
			details.Hint = entry.hint
			break
		}
	}
	return details
}

// KindOf classifies err by its marker sentinel. Context deadline errors map to
// timeouts and context cancellation maps to canceled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	}
	return ErrorKindUnknown
}

// ParseErrorKind converts a persisted kind string back into an ErrorKind.
func ParseErrorKind(value string) ErrorKind {
	kind := ErrorKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case ErrorKindExternalTool, ErrorKindValidation, ErrorKindConfiguration, ErrorKindNotFound,
		ErrorKindTimeout, ErrorKindTransient, ErrorKindUnsupported, ErrorKindResourceExceeded,
		ErrorKindCanceled:
		return kind
	default:
		return ErrorKindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
