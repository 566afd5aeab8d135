package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/log"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

const (
	watchKeyPrefix    = "watch:"    // watch:<id>
	resourceKeyPrefix = "res:"      // res:<watchID>:<normalized url>
	watchDBDir        = "watch_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the Store interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the watch database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, watchDBDir)
	logger.Infof("Opening watch database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerAdapter(logger)).
		WithNumVersionsToKeep(1) // Only the latest state matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.Info("Watch database opened.")
	return &BadgerStore{db: db, log: logger}, nil
}

func resourcePrefix(watchID string) []byte {
	return []byte(resourceKeyPrefix + watchID + ":")
}

func resourceKey(watchID, normalizedURL string) []byte {
	return []byte(resourceKeyPrefix + watchID + ":" + normalizedURL)
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent downloads of one watch write neighbouring keys, so conflicts are
// expected and resolve on the next attempt.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// putJSON marshals v and stores it under key
func (s *BadgerStore) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal value for key '%s': %w", utils.ErrParsing, string(key), err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: failed setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// PutWatch implements the WatchStore interface
func (s *BadgerStore) PutWatch(rec *models.WatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: watch record without id", utils.ErrDatabase)
	}
	return s.putJSON([]byte(watchKeyPrefix+rec.ID), rec)
}

// GetWatch implements the WatchStore interface
func (s *BadgerStore) GetWatch(id string) (*models.WatchRecord, error) {
	key := []byte(watchKeyPrefix + id)
	var rec models.WatchRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: watch '%s'", utils.ErrNotFound, id)
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting watch key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if errJson := json.Unmarshal(val, &rec); errJson != nil {
				return fmt.Errorf("%w: corrupt watch record '%s': %w", utils.ErrDatabase, id, errJson)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListWatches implements the WatchStore interface
func (s *BadgerStore) ListWatches() ([]*models.WatchRecord, error) {
	var out []*models.WatchRecord
	prefix := []byte(watchKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			errValue := item.Value(func(val []byte) error {
				var rec models.WatchRecord
				if errJson := json.Unmarshal(val, &rec); errJson != nil {
					s.log.Warnf("Skipping corrupt watch record '%s': %v", string(item.Key()), errJson)
					return nil
				}
				out = append(out, &rec)
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing watches: %w", utils.ErrDatabase, err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

// DeleteWatch implements the WatchStore interface
func (s *BadgerStore) DeleteWatch(id string) error {
	// Resource keys first, in a separate pass, so large watches do not blow the txn size limit
	prefix := resourcePrefix(id)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scanning resources of watch '%s': %w", utils.ErrDatabase, id, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("%w: deleting resource key '%s': %w", utils.ErrDatabase, string(k), err)
		}
	}
	if err := wb.Delete([]byte(watchKeyPrefix + id)); err != nil {
		return fmt.Errorf("%w: deleting watch '%s': %w", utils.ErrDatabase, id, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: flushing delete of watch '%s': %w", utils.ErrDatabase, id, err)
	}

	s.log.WithField("watch_id", id).Debugf("Deleted watch and %d resource records", len(keys))
	return nil
}

// CheckResourceStatus implements the ResourceStore interface
func (s *BadgerStore) CheckResourceStatus(watchID, normalizedURL string) (models.ResourceStatus, *models.ResourceRecord, error) {
	status := models.ResourceStatusUnset
	var rec *models.ResourceRecord
	key := resourceKey(watchID, normalizedURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil // Never recorded
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting resource key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Resource key '%s' found with empty value, treating as unset.", string(key))
				return nil
			}
			var decoded models.ResourceRecord
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.Warnf("Failed to unmarshal ResourceRecord for key '%s': %v. Treating as unset.", string(key), errJson)
				return nil
			}
			rec = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckResourceStatus for key '%s': %v", string(key), errView)
		return models.ResourceStatusDBError, nil, errView
	}
	return status, rec, nil
}

// UpdateResourceStatus implements the ResourceStore interface
func (s *BadgerStore) UpdateResourceStatus(watchID, normalizedURL string, rec *models.ResourceRecord) error {
	return s.putJSON(resourceKey(watchID, normalizedURL), rec)
}

// CountResources implements the ResourceStore interface
func (s *BadgerStore) CountResources(watchID string) (models.ResourceCounts, error) {
	var counts models.ResourceCounts
	prefix := resourcePrefix(watchID)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			errValue := it.Item().Value(func(val []byte) error {
				var rec models.ResourceRecord
				if errJson := json.Unmarshal(val, &rec); errJson != nil {
					return nil // Corrupt entries are not counted
				}
				switch rec.Status {
				case models.ResourceStatusCompleted:
					counts.Completed++
				case models.ResourceStatusNotFound:
					counts.NotFound++
				case models.ResourceStatusFailed:
					counts.Failed++
				case models.ResourceStatusSkipped:
					counts.Skipped++
				case models.ResourceStatusPending:
					counts.Pending++
				}
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("%w: counting resources of watch '%s': %w", utils.ErrDatabase, watchID, err)
	}
	return counts, nil
}

// WriteResourceLog writes one TSV line per resource of the watch:
// status, URL, local path, and the error type or "accepted" for a kept mismatch.
func (s *BadgerStore) WriteResourceLog(ctx context.Context, watchID, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create resource log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	prefix := resourcePrefix(watchID)
	written := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			normalizedURL := string(item.Key()[len(prefix):])
			var rec models.ResourceRecord
			if errValue := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); errValue != nil {
				s.log.Warnf("Skipping unreadable resource record '%s': %v", normalizedURL, errValue)
				continue
			}
			note := rec.ErrorType
			if rec.Accepted {
				note = "accepted"
			}
			if _, err := fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", rec.Status, normalizedURL, rec.LocalPath, note); err != nil {
				return err
			}
			written++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && iterErr == nil {
		iterErr = flushErr
	}
	if iterErr != nil {
		if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
			return iterErr
		}
		return fmt.Errorf("%w: writing resource log '%s': %w", utils.ErrDatabase, filePath, iterErr)
	}

	s.log.Infof("Wrote %d resource entries to %s", written, filePath)
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing watch DB: %v", err)
			return err
		}
		s.log.Info("Watch DB closed.")
	}
	return nil
}
