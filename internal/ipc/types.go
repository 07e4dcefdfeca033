package ipc

import (
	"time"

	"faststart/internal/api"
)

// FileEntry mirrors the HTTP API entry DTO.
type FileEntry = api.FileEntry

// DaemonStatus mirrors the HTTP API status DTO.
type DaemonStatus = api.DaemonStatus

// DependencyStatus mirrors the HTTP API dependency DTO.
type DependencyStatus = api.DependencyStatus

// BridgeStatus mirrors the HTTP API bridge DTO.
type BridgeStatus = api.BridgeStatus

// CacheStats mirrors the HTTP API probe cache DTO.
type CacheStats = api.CacheStats

// AddPathsRequest admits files and folders.
type AddPathsRequest struct {
	Paths []string `json:"paths"`
}

// AddPathsResponse lists the newly admitted entries.
type AddPathsResponse struct {
	Added []FileEntry `json:"added"`
}

// ListRequest filters the registry view by status.
type ListRequest struct {
	Statuses []string `json:"statuses"`
}

// ListResponse contains the ordered registry view.
type ListResponse struct {
	Items      []FileEntry `json:"items"`
	Generation uint64      `json:"generation"`
}

// PathRequest targets one tracked file.
type PathRequest struct {
	Path string `json:"path"`
}

// FileResponse contains one entry.
type FileResponse struct {
	Item FileEntry `json:"item"`
}

// OptimizeResponse reports the entry after an optimization settled.
type OptimizeResponse struct {
	Item  FileEntry `json:"item"`
	Error string    `json:"error,omitempty"`
}

// OptimizeAllRequest optimizes every unoptimized file. Without Wait the
// batch runs in the background.
type OptimizeAllRequest struct {
	Wait bool `json:"wait"`
}

// OptimizeAllResponse reports the batch.
type OptimizeAllResponse struct {
	Queued    int           `json:"queued"`
	Optimized int           `json:"optimized"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ClearRequest empties the registry and optionally the probe cache.
type ClearRequest struct {
	Cache bool `json:"cache"`
}

// ClearResponse reports removed entries.
type ClearResponse struct {
	Removed      int   `json:"removed"`
	CacheRemoved int64 `json:"cache_removed"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StopRequest asks the daemon to shut down.
type StopRequest struct {
	Force bool `json:"force"`
}

// StopResponse indicates the stop result.
type StopResponse struct {
	Stopped bool   `json:"stopped"`
	Busy    bool   `json:"busy"`
	Message string `json:"message"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse describes the outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
