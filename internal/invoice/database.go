package invoice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const auditBucketName = "audit_logs"

// BoltAuditStore implements AuditStore using BoltDB
type BoltAuditStore struct {
	db *bbolt.DB
}

// NewBoltAuditStore opens (or creates) the database at path
func NewBoltAuditStore(path string) (*BoltAuditStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(auditBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltAuditStore{db: db}, nil
}

// auditKey orders entries by creation time; the id breaks ties
func auditKey(entry *AuditLogEntry) []byte {
	key := make([]byte, 8, 8+len(entry.ID))
	binary.BigEndian.PutUint64(key, uint64(entry.CreatedAt.UnixNano()))
	return append(key, entry.ID...)
}

// Append saves an entry to the database
func (b *BoltAuditStore) Append(ctx context.Context, entry *AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return errors.New("audit entry requires an id")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucketName))
		key := auditKey(entry)
		if bucket.Get(key) != nil {
			return fmt.Errorf("audit entry already exists: %s", entry.ID)
		}
		return bucket.Put(key, data)
	})
}

// Recent walks the bucket from the newest key backwards
func (b *BoltAuditStore) Recent(ctx context.Context, actorID *string, limit int) ([]*AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]*AuditLogEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(auditBucketName)).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry AuditLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling audit entry: %w", err)
			}
			if actorID != nil && !sameActor(actorID, entry.ActorID) {
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the database connection
func (b *BoltAuditStore) Close() error {
	return b.db.Close()
}
