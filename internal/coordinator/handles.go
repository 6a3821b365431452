package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const handleBucket = "Handles"

// HandleRecord is the persisted reference to a granted directory handle,
// keyed by project ID. It lets a later session re-request access to the
// same directory without a fresh picker gesture carrying the path.
type HandleRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Root         string    `json:"root"`
	ProjectPath  string    `json:"project_path"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	StoredAt     time.Time `json:"stored_at"`
}

// HandleStore persists one HandleRecord per project in a bbolt bucket.
type HandleStore struct {
	conn *bbolt.DB
}

// OpenHandleStore opens (creating if needed) the handle database. The
// open timeout guards against two processes holding the file at once.
func OpenHandleStore(path string) (*HandleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create handle store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open handle store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(handleBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create handle bucket: %w", err)
	}
	return &HandleStore{conn: db}, nil
}

// Close closes the underlying database.
func (s *HandleStore) Close() error {
	return s.conn.Close()
}

// Get returns the stored record for a project, or nil when none exists.
func (s *HandleStore) Get(projectID string) (*HandleRecord, error) {
	var rec *HandleRecord
	err := s.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(handleBucket)).Get([]byte(projectID))
		if v == nil {
			return nil
		}
		rec = &HandleRecord{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("load handle record: %w", err)
	}
	return rec, nil
}

// Put stores or replaces the record for a project.
func (s *HandleStore) Put(projectID string, rec *HandleRecord) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode handle record: %w", err)
	}
	return s.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(handleBucket)).Put([]byte(projectID), data)
	})
}

// TouchSynced stamps the record's last-synced time. Missing records are
// not an error; there is simply nothing to stamp.
func (s *HandleStore) TouchSynced(projectID string, at time.Time) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(handleBucket))
		v := b.Get([]byte(projectID))
		if v == nil {
			return nil
		}
		var rec HandleRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode handle record: %w", err)
		}
		rec.LastSyncedAt = at
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(projectID), data)
	})
}

// Delete forgets the record for a project.
func (s *HandleStore) Delete(projectID string) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(handleBucket)).Delete([]byte(projectID))
	})
}

// List returns every stored record keyed by project ID.
func (s *HandleStore) List() (map[string]*HandleRecord, error) {
	out := make(map[string]*HandleRecord)
	err := s.conn.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(handleBucket)).ForEach(func(k, v []byte) error {
			var rec HandleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode handle record %s: %w", string(k), err)
			}
			out[string(k)] = &rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
