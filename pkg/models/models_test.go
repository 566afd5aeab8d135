package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchRecord_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	rec := WatchRecord{
		ID:           "abc",
		URL:          "https://example.com/thread/1",
		Dir:          "/tmp/thread1",
		Interval:     3 * time.Minute,
		AddedAt:      now,
		LastModified: now,
		StopReason:   StopReasonNotFound,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got WatchRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
	assert.True(t, got.Stopped())

	raw := string(data)
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "skip_patterns")
}

func TestWatchRecord_Stopped(t *testing.T) {
	assert.False(t, (&WatchRecord{}).Stopped())
	assert.True(t, (&WatchRecord{StopReason: StopReasonUser}).Stopped())

	// Callable on values returned from functions, e.g. snapshot copies.
	snapshot := func() WatchRecord { return WatchRecord{StopReason: StopReasonNotFound} }
	assert.True(t, snapshot().Stopped())
}

func TestResourceRecord_OmitEmpty(t *testing.T) {
	rec := ResourceRecord{
		Status:      ResourceStatusPending,
		Kind:        ResourceKindImage,
		LastAttempt: time.Now().UTC(),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "local_path")
	assert.NotContains(t, raw, "error_type")
	assert.NotContains(t, raw, "accepted")
}

func TestResourceCounts_Total(t *testing.T) {
	c := ResourceCounts{Completed: 3, NotFound: 1, Failed: 2, Skipped: 1, Pending: 4}
	assert.Equal(t, 11, c.Total())
}
