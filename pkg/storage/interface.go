package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/thread-watcher/pkg/models"
)

// WatchStore persists the set of watched threads
type WatchStore interface {
	// PutWatch inserts or replaces a watch record
	PutWatch(rec *models.WatchRecord) error

	// GetWatch returns the record for id, or an error wrapping utils.ErrNotFound
	GetWatch(id string) (*models.WatchRecord, error)

	// ListWatches returns every stored watch ordered by AddedAt
	ListWatches() ([]*models.WatchRecord, error)

	// DeleteWatch removes a watch and all of its resource records
	DeleteWatch(id string) error
}

// ResourceStore handles per-watch resource download state
type ResourceStore interface {
	// CheckResourceStatus retrieves the status and details of a resource URL within a watch
	// Returns the stored status (ResourceStatusUnset when never recorded, ResourceStatusDBError on failure),
	// the ResourceRecord if found and parsed, and any error
	CheckResourceStatus(watchID, normalizedURL string) (status models.ResourceStatus, rec *models.ResourceRecord, err error)

	// UpdateResourceStatus updates the status and details for a resource URL
	UpdateResourceStatus(watchID, normalizedURL string, rec *models.ResourceRecord) error

	// CountResources summarizes the resource records of a watch
	CountResources(watchID string) (models.ResourceCounts, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// WriteResourceLog writes "status<TAB>url<TAB>local_path" lines for a watch to filePath
	WriteResourceLog(ctx context.Context, watchID, filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	WatchStore
	ResourceStore
	StoreAdmin
}
