// Package types provides common type definitions for the registry indexer system.
package types

// EventType represents the kind of registry event recovered from a program log
type EventType string

const (
	// EventPublished represents the first publication of a package version
	EventPublished EventType = "PackagePublished"
	// EventUpdated represents an update to an already-published package
	EventUpdated EventType = "PackageUpdated"
	// EventDownloaded represents a package download
	EventDownloaded EventType = "PackageDownloaded"
)

// IndexerStatus represents the scan worker lifecycle state
type IndexerStatus string

const (
	// StatusStarting means the worker is resolving its start cursor
	StatusStarting IndexerStatus = "starting"
	// StatusRunning means the worker is polling and processing slots
	StatusRunning IndexerStatus = "running"
	// StatusBackoff means repeated tip fetches failed and the worker is backing off
	StatusBackoff IndexerStatus = "backoff"
	// StatusStopped means the worker exited cleanly
	StatusStopped IndexerStatus = "stopped"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}
