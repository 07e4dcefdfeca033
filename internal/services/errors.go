package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrProbe marks a failed "is optimized" or metadata probe for one file.
	ErrProbe = errors.New("probe failure")
	// ErrOptimize marks a failed optimization of one file.
	ErrOptimize = errors.New("optimize failure")
	// ErrDegraded marks a collaborator failure that was absorbed by a fallback.
	ErrDegraded = errors.New("degraded")
	// ErrConnectivity marks a host channel that never became available.
	ErrConnectivity = errors.New("connectivity timeout")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// EventType maps an error to the event_type used in structured warning logs.
func EventType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrConnectivity):
		return "connectivity_timeout"
	case errors.Is(err, ErrDegraded):
		return "ingestion_degraded"
	case errors.Is(err, ErrOptimize):
		return "optimize_failed"
	case errors.Is(err, ErrProbe):
		return "probe_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return "validation_failed"
	case errors.Is(err, ErrExternalTool):
		return "external_tool_failed"
	default:
		return "failure"
	}
}

// Message returns the text shown to users for a per-file failure. Panics
// recovered from collaborators and empty errors get a generic description.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
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
