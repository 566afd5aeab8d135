package models

// ResourceStatus represents the download status of a resource in the database
type ResourceStatus string

const (
	ResourceStatusUnset     ResourceStatus = ""          // Zero value = unset/unknown
	ResourceStatusPending   ResourceStatus = "pending"   // Extracted, not yet downloaded
	ResourceStatusCompleted ResourceStatus = "completed" // Downloaded (or accepted as stable)
	ResourceStatusFailed    ResourceStatus = "failed"    // Download failed, retried on a later cycle
	ResourceStatusSkipped   ResourceStatus = "skipped"   // Skipped (path too long, filtered)
	ResourceStatusNotFound  ResourceStatus = "not_found" // Server answered 404; never retried
	ResourceStatusDBError   ResourceStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s ResourceStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ResourceStatus) IsValid() bool {
	switch s {
	case ResourceStatusPending, ResourceStatusCompleted, ResourceStatusFailed, ResourceStatusSkipped, ResourceStatusNotFound:
		return true
	}
	return false
}

// IsDone returns true if the resource needs no further download attempts
func (s ResourceStatus) IsDone() bool {
	return s == ResourceStatusCompleted || s == ResourceStatusNotFound
}

// ResourceKind distinguishes full images from their thumbnails
type ResourceKind string

const (
	ResourceKindImage     ResourceKind = "image"
	ResourceKindThumbnail ResourceKind = "thumbnail"
)

// StopReason records why a watch stopped
type StopReason string

const (
	StopReasonNone     StopReason = ""          // Still running
	StopReasonNotFound StopReason = "not_found" // The thread page returned 404
	StopReasonIOError  StopReason = "io_error"  // Destination directory missing or not writable
	StopReasonUser     StopReason = "user"      // Stopped on request
	StopReasonRobots   StopReason = "robots"    // Disallowed by robots.txt
	StopReasonOther    StopReason = "other"     // Unexpected failure inside a cycle
)

// String implements fmt.Stringer for logging
func (r StopReason) String() string {
	if r == "" {
		return "none"
	}
	return string(r)
}
