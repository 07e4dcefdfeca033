package registry

import "strings"

// Status represents where a file is in the scan/optimize lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScanning    Status = "scanning"
	StatusOptimized   Status = "optimized"
	StatusUnoptimized Status = "unoptimized"
	StatusOptimizing  Status = "optimizing"
	StatusError       Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusScanning,
	StatusOptimized,
	StatusUnoptimized,
	StatusOptimizing,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var transientStatuses = map[Status]struct{}{
	StatusScanning:   {},
	StatusOptimizing: {},
}

// transitions lists the legal moves driven by pipeline outcomes. User
// re-triggers are handled separately by CanTransition.
var transitions = map[Status][]Status{
	StatusPending:     {StatusScanning},
	StatusScanning:    {StatusOptimized, StatusUnoptimized, StatusError},
	StatusUnoptimized: {StatusOptimizing},
	StatusOptimizing:  {StatusOptimized, StatusError},
	StatusError:       {StatusScanning, StatusOptimizing},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTransient reports whether the status marks in-flight work that must
// eventually resolve to a settled status.
func IsTransient(status Status) bool {
	_, ok := transientStatuses[status]
	return ok
}

// CanTransition reports whether moving from one status to another is legal.
// Besides pipeline outcomes, any settled status may be sent back to scanning
// or optimizing by an explicit user re-trigger.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	if !IsTransient(from) && from != StatusPending && IsTransient(to) {
		return true
	}
	return false
}

// Label returns the human-facing status text used by the CLI.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusScanning:
		return "Scanning"
	case StatusOptimized:
		return "Optimized"
	case StatusUnoptimized:
		return "Needs optimization"
	case StatusOptimizing:
		return "Optimizing"
	case StatusError:
		return "Error"
	default:
		return string(s)
	}
}
