package models

import "time"

// WatchRecord is the persisted state of one watched thread
type WatchRecord struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Dir            string        `json:"dir"`
	Interval       time.Duration `json:"interval"`
	UserAgent      string        `json:"user_agent,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Referer        string        `json:"referer,omitempty"`
	Extractor      string        `json:"extractor,omitempty"`
	RespectRobots  bool          `json:"respect_robots,omitempty"`
	SkipPatterns   []string      `json:"skip_patterns,omitempty"`
	SkipThumbnails bool          `json:"skip_thumbnails,omitempty"`
	AddedAt        time.Time     `json:"added_at"`
	LastChecked    time.Time     `json:"last_checked,omitempty"`
	LastModified   time.Time     `json:"last_modified,omitempty"` // From the page response; sent back as If-Modified-Since
	NextCheck      time.Time     `json:"next_check,omitempty"`
	StopReason     StopReason    `json:"stop_reason,omitempty"` // Empty while the watch is running
	StoppedAt      time.Time     `json:"stopped_at,omitempty"`
	PageCount      int           `json:"page_count,omitempty"`
}

// Stopped reports whether the watch has been stopped for any reason
func (w WatchRecord) Stopped() bool {
	return w.StopReason != StopReasonNone
}

// ResourceRecord stores the result of downloading one linked resource
type ResourceRecord struct {
	Status      ResourceStatus `json:"status"`
	Kind        ResourceKind   `json:"kind"`
	URL         string         `json:"url"`                  // Original (non-normalized) URL
	LocalPath   string         `json:"local_path,omitempty"` // Relative to the watch directory
	Bytes       int64          `json:"bytes,omitempty"`
	Tries       int            `json:"tries,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"` // Error category (on failure)
	Accepted    bool           `json:"accepted,omitempty"`   // Mismatch that was stable across tries and kept
	LastAttempt time.Time      `json:"last_attempt"`
}

// ResourceCounts summarizes the resource records of a watch
type ResourceCounts struct {
	Completed int `json:"completed"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// Total returns the number of recorded resources
func (c ResourceCounts) Total() int {
	return c.Completed + c.NotFound + c.Failed + c.Skipped + c.Pending
}
