package api

import (
	"time"

	"faststart/internal/registry"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FileEntry describes a registry entry in a transport-friendly format.
type FileEntry struct {
	Key         string        `json:"key"`
	DisplayName string        `json:"displayName"`
	Status      string        `json:"status"`
	StatusLabel string        `json:"statusLabel"`
	Message     string        `json:"message,omitempty"`
	Progress    float64       `json:"progress"`
	Size        int64         `json:"size"`
	Metadata    *FileMetadata `json:"metadata,omitempty"`
	Generation  uint64        `json:"generation"`
	AddedAt     string        `json:"addedAt,omitempty"`
	UpdatedAt   string        `json:"updatedAt,omitempty"`
}

// FileMetadata carries probe results.
type FileMetadata struct {
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Codec           string  `json:"codec,omitempty"`
	ModifiedAt      string  `json:"modifiedAt,omitempty"`
}

// FileListResponse wraps the ordered registry view.
type FileListResponse struct {
	Items      []FileEntry `json:"items"`
	Generation uint64      `json:"generation"`
}

// FileResponse wraps a single entry.
type FileResponse struct {
	Item FileEntry `json:"item"`
}

// AddPathsRequest admits files and folders.
type AddPathsRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

// AddPathsResponse lists the entries that were new.
type AddPathsResponse struct {
	Added []FileEntry `json:"added"`
}

// PathRequest targets a single tracked file.
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// TriggerResponse reports whether background work was queued.
type TriggerResponse struct {
	Key     string `json:"key"`
	Started bool   `json:"started"`
}

// OptimizeAllResponse reports how many files were queued.
type OptimizeAllResponse struct {
	Queued int `json:"queued"`
}

// ClearResponse reports how many entries were removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BridgeStatus describes one event bridge.
type BridgeStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Attempts  int    `json:"attempts"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CacheStats summarizes the probe cache.
type CacheStats struct {
	Path    string `json:"path"`
	Entries int64  `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	Version       string             `json:"version"`
	StartedAt     string             `json:"startedAt,omitempty"`
	UptimeSeconds int64              `json:"uptimeSeconds"`
	LockFilePath  string             `json:"lockFilePath"`
	SocketPath    string             `json:"socketPath"`
	APIAddress    string             `json:"apiAddress,omitempty"`
	Generation    uint64             `json:"generation"`
	Total         int                `json:"total"`
	Counts        map[string]int     `json:"counts"`
	Optimizing    int                `json:"optimizing"`
	PendingTasks  int                `json:"pendingTasks"`
	Playing       []string           `json:"playing,omitempty"`
	Folders       int                `json:"folders"`
	Bridges       []BridgeStatus     `json:"bridges"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Cache         *CacheStats        `json:"cache,omitempty"`
	MemoryRSS     uint64             `json:"memoryRss"`
	Goroutines    int                `json:"goroutines"`
}

// Event types pushed over /api/events.
const (
	EventSnapshot = "snapshot"
	EventAdded    = "added"
	EventUpdated  = "updated"
	EventCleared  = "cleared"
)

// Event is one WebSocket message.
type Event struct {
	Type       string      `json:"type"`
	Generation uint64      `json:"generation"`
	Entry      *FileEntry  `json:"entry,omitempty"`
	Items      []FileEntry `json:"items,omitempty"`
}

// FromEntry converts a registry entry.
func FromEntry(entry registry.Entry) FileEntry {
	out := FileEntry{
		Key:         entry.Key,
		DisplayName: entry.DisplayName,
		Status:      string(entry.Status),
		StatusLabel: entry.Status.Label(),
		Message:     entry.Message,
		Progress:    entry.Progress,
		Size:        entry.Size,
		Generation:  entry.Generation,
		AddedAt:     formatTime(entry.AddedAt),
		UpdatedAt:   formatTime(entry.UpdatedAt),
	}
	if meta := entry.Metadata; meta != nil {
		out.Metadata = &FileMetadata{
			SizeBytes:       meta.SizeBytes,
			DurationSeconds: meta.DurationSeconds,
			Width:           meta.Width,
			Height:          meta.Height,
			Codec:           meta.Codec,
			ModifiedAt:      formatTime(meta.ModifiedAt),
		}
	}
	return out
}

// FromEntries converts entries preserving order. The result is never nil.
func FromEntries(entries []registry.Entry) []FileEntry {
	out := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromEntry(entry))
	}
	return out
}

// FromChange converts a registry change into a WebSocket event.
func FromChange(change registry.Change) Event {
	event := Event{Generation: change.Generation}
	switch change.Kind {
	case registry.ChangeCleared:
		event.Type = EventCleared
		return event
	case registry.ChangeAdded:
		event.Type = EventAdded
	default:
		event.Type = EventUpdated
	}
	entry := FromEntry(change.Entry)
	event.Entry = &entry
	return event
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
