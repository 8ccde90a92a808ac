// Package queue is the durable task store behind deferred campaign work:
// future dispatch windows and A/B winner follow-ups. Tasks live in BoltDB
// with a time-ordered due index so scheduled sends survive restarts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks = []byte("tasks")
	bucketDue   = []byte("due")
)

// Store implements the durable task store using BoltDB
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if needed) the task store at path
func NewStore(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketDue} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue adds a task to the store and indexes it by due time
func (s *Store) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now()
	task.Status = StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), data); err != nil {
			return fmt.Errorf("failed to store task: %w", err)
		}

		indexKey := makeIndexKey(task.RunAt, task.ID)
		if err := tx.Bucket(bucketDue).Put(indexKey, []byte(task.ID)); err != nil {
			return fmt.Errorf("failed to add to due index: %w", err)
		}
		return nil
	})
}

// Dequeue claims the earliest task due at or before now. Returns nil when
// nothing is due.
func (s *Store) Dequeue(ctx context.Context, now time.Time) (*Task, error) {
	var task *Task

	err := s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		c := tx.Bucket(bucketDue).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			ts := parseTimestampFromKey(k)
			if ts.After(now) {
				break // All remaining are in the future
			}

			data := taskBucket.Get(v)
			if data == nil {
				// Task was deleted, clean up index
				c.Delete()
				continue
			}

			var t Task
			if err := json.Unmarshal(data, &t); err != nil {
				continue
			}

			t.Status = StatusRunning
			t.Attempts++
			t.UpdatedAt = now

			updated, err := json.Marshal(&t)
			if err != nil {
				return err
			}
			if err := taskBucket.Put([]byte(t.ID), updated); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			task = &t
			return nil
		}
		return nil
	})

	return task, err
}

// Complete removes a finished task
func (s *Store) Complete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// Retry puts a claimed task back with a new due time and the error that
// caused the retry.
func (s *Store) Retry(ctx context.Context, task *Task, at time.Time, lastErr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		task.Status = StatusPending
		task.RunAt = at
		task.LastError = lastErr
		task.UpdatedAt = time.Now()

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), data); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		indexKey := makeIndexKey(at, task.ID)
		if err := tx.Bucket(bucketDue).Put(indexKey, []byte(task.ID)); err != nil {
			return fmt.Errorf("failed to add to due index: %w", err)
		}
		return nil
	})
}

// CancelCampaign drops every pending task of one campaign. Used by pause:
// unfired windows must not dispatch.
func (s *Store) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		dueBucket := tx.Bucket(bucketDue)

		c := taskBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if t.CampaignID != campaignID || t.Status != StatusPending {
				continue
			}
			dueBucket.Delete(makeIndexKey(t.RunAt, t.ID))
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// PendingForCampaign lists a campaign's queued tasks, earliest first.
func (s *Store) PendingForCampaign(ctx context.Context, campaignID string) ([]*Task, error) {
	var tasks []*Task

	err := s.db.View(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		c := tx.Bucket(bucketDue).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			data := taskBucket.Get(v)
			if data == nil {
				continue
			}
			var t Task
			if err := json.Unmarshal(data, &t); err != nil {
				continue
			}
			if t.CampaignID != campaignID {
				continue
			}
			tasks = append(tasks, &t)
		}
		return nil
	})

	return tasks, err
}

// Stats returns task counts by status
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			switch t.Status {
			case StatusPending:
				stats.Pending++
			case StatusRunning:
				stats.Running++
			}
			stats.Total++
		}
		return nil
	})

	return stats, err
}

// makeIndexKey creates a sortable due-index key
func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (RFC3339Nano) + ":" + id
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}
