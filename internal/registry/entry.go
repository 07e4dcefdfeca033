package registry

import "time"

// Metadata describes a probed video file. It is always replaced as a whole.
type Metadata struct {
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Codec           string    `json:"codec"`
	ModifiedAt      time.Time `json:"modified_at"`
}

// Entry is one tracked file. Key, DisplayName, Generation, and AddedAt are
// fixed at admission; the registry restores them after every mutation.
type Entry struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	Size        int64     `json:"size"`
	Progress    float64   `json:"progress"`
	Generation  uint64    `json:"generation"`
	AddedAt     time.Time `json:"added_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsTransient reports whether the entry has in-flight work.
func (e Entry) IsTransient() bool {
	return IsTransient(e.Status)
}

// SetScanning starts a (re-)scan.
func (e *Entry) SetScanning() {
	e.Status = StatusScanning
	e.Message = ""
	e.Progress = 0
}

// SetScanResult records the outcome of the "is optimized" probe.
func (e *Entry) SetScanResult(optimized bool) {
	if optimized {
		e.Status = StatusOptimized
	} else {
		e.Status = StatusUnoptimized
	}
	e.Message = ""
}

// SetOptimizing starts an optimization run.
func (e *Entry) SetOptimizing() {
	e.Status = StatusOptimizing
	e.Message = ""
	e.Progress = 0
}

// SetProgress records optimization progress; ignored outside optimizing.
func (e *Entry) SetProgress(percent float64) {
	if e.Status != StatusOptimizing {
		return
	}
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	if percent > e.Progress {
		e.Progress = percent
	}
}

// SetOptimized records a successful optimization.
func (e *Entry) SetOptimized() {
	e.Status = StatusOptimized
	e.Message = ""
	e.Progress = 100
}

// SetFailed moves the entry to error with a user-facing message.
func (e *Entry) SetFailed(message string) {
	e.Status = StatusError
	e.Message = message
	e.Progress = 0
}

// SetMetadata replaces the metadata wholesale. Status is left untouched.
func (e *Entry) SetMetadata(meta Metadata) {
	m := meta
	e.Metadata = &m
	e.Size = m.SizeBytes
}
