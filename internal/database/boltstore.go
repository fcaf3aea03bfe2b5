// internal/database/boltstore.go - BoltDB implementation
package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var (
	HealthChecksBucket = []byte("health_checks")
	RecoveriesBucket   = []byte("recoveries")
	RecoveryIDsBucket  = []byte("recovery_ids")
	MetaBucket         = []byte("meta")
)

// BoltStore keeps history rows keyed by (timestamp, sequence) so cursor order
// is time order, and recovery rows keyed by insertion sequence.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{HealthChecksBucket, RecoveriesBucket, RecoveryIDsBucket, MetaBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Flipping the sign bit keeps keys in time order across the epoch.
const signBit = 1 << 63

func timeKey(t time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(t.UnixNano()) ^ signBit)
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func timeFromKey(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[:8]) ^ signBit))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *BoltStore) AppendHealthChecks(ctx context.Context, records []HealthCheckRecord, pruneBefore time.Time) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	pruned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HealthChecksBucket)

		for i := range records {
			if err := putHealthCheck(b, &records[i]); err != nil {
				return err
			}
		}

		if pruneBefore.IsZero() {
			return nil
		}

		cutoff := timeKey(pruneBefore, 0)
		var keysToDelete [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			keysToDelete = append(keysToDelete, copyBytes(k))
		}
		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to prune history entry: %w", err)
			}
		}
		pruned = len(keysToDelete)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if pruned > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted_count": pruned,
			"cutoff_time":   pruneBefore,
		}).Debug("Pruned old health check entries")
	}
	return len(records), pruned, nil
}

func (s *BoltStore) CreateHealthCheck(ctx context.Context, record *HealthCheckRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putHealthCheck(tx.Bucket(HealthChecksBucket), record)
	})
}

func putHealthCheck(b *bbolt.Bucket, record *HealthCheckRecord) error {
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate id: %w", err)
	}
	record.ID = seq
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal health check: %w", err)
	}
	return b.Put(timeKey(record.Timestamp, seq), data)
}

// scanNewestFirst walks rows inside [since, until) from newest to oldest and
// stops when fn returns false.
func scanNewestFirst(b *bbolt.Bucket, since, until time.Time, fn func(rec *HealthCheckRecord) bool) {
	c := b.Cursor()

	var k, v []byte
	if until.IsZero() {
		k, v = c.Last()
	} else {
		k, v = c.Seek(timeKey(until, 0))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
	}

	for ; k != nil; k, v = c.Prev() {
		if !since.IsZero() && timeFromKey(k).Before(since) {
			return
		}
		var rec HealthCheckRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue // Skip malformed entries
		}
		if !fn(&rec) {
			return
		}
	}
}

func (s *BoltStore) QueryHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []HealthCheckRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		scanNewestFirst(tx.Bucket(HealthChecksBucket), filters.Since, filters.Until, func(rec *HealthCheckRecord) bool {
			if !filters.Match(rec) {
				return true
			}
			records = append(records, *rec)
			return filters.Limit <= 0 || len(records) < filters.Limit
		})
		return nil
	})
	return records, err
}

func (s *BoltStore) LatestHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error) {
	window := HealthCheckFilters{Since: filters.Since, Until: filters.Until}
	rows, err := s.QueryHealthChecks(ctx, window)
	if err != nil {
		return nil, err
	}
	return filterLatest(rows, filters), nil
}

// filterLatest reduces rows (newest first) to the newest row per service and
// then applies the non-time filters, so a status filter matches on the
// current state only.
func filterLatest(rows []HealthCheckRecord, filters HealthCheckFilters) []HealthCheckRecord {
	latest := latestPerService(rows)
	out := latest[:0]
	for i := range latest {
		if filters.Match(&latest[i]) {
			out = append(out, latest[i])
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out
}

func (s *BoltStore) DeleteHealthChecks(ctx context.Context, filters DeleteFilters) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !filters.All && filters.Before.IsZero() {
		return 0, fmt.Errorf("delete requires a cutoff time")
	}

	deletedCount := 0
	apply := s.db.Update
	if filters.DryRun {
		apply = s.db.View
	}

	err := apply(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HealthChecksBucket)
		c := b.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !filters.All && !timeFromKey(k).Before(filters.Before) {
				break
			}
			var rec HealthCheckRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if filters.Match(&rec) {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}
		}

		deletedCount = len(keysToDelete)
		if filters.DryRun {
			return nil
		}
		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete history entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"group":         filters.Group,
		"service":       filters.Service,
		"dry_run":       filters.DryRun,
	}).Info("Deleted health check entries")

	return deletedCount, nil
}

type boltRecoveryTx struct {
	rows *bbolt.Bucket
	ids  *bbolt.Bucket
}

func (t *boltRecoveryTx) OpenRecoveries(group, service string) ([]RecoveryState, error) {
	var open []RecoveryState
	c := t.rows.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		var rec RecoveryState
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recovery %x: %w", k, err)
		}
		if rec.ServiceGroup == group && rec.ServiceName == service && rec.EndTime == nil {
			open = append(open, rec)
		}
	}
	return open, nil
}

func (t *boltRecoveryTx) PutRecovery(rec *RecoveryState) error {
	var key []byte
	if rec.ID != "" {
		key = t.ids.Get([]byte(rec.ID))
	}
	if key == nil {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		seq, err := t.rows.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate recovery key: %w", err)
		}
		key = seqKey(seq)
		if err := t.ids.Put([]byte(rec.ID), key); err != nil {
			return err
		}
	} else {
		key = copyBytes(key)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery: %w", err)
	}
	return t.rows.Put(key, data)
}

func (s *BoltStore) UpdateRecoveries(ctx context.Context, fn func(tx RecoveryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltRecoveryTx{
			rows: tx.Bucket(RecoveriesBucket),
			ids:  tx.Bucket(RecoveryIDsBucket),
		})
	})
}

func (s *BoltStore) LatestRecovery(ctx context.Context, filters RecoveryFilters) (*RecoveryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var latest *RecoveryState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(RecoveriesBucket).ForEach(func(k, v []byte) error {
			var rec RecoveryState
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip malformed entries
			}
			if !filters.Match(&rec) {
				return nil
			}
			// Insertion order breaks CreatedAt ties in favor of the later row.
			if latest == nil || !rec.CreatedAt.Before(latest.CreatedAt) {
				r := rec
				latest = &r
			}
			return nil
		})
	})
	return latest, err
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Engine: "boltdb"}

	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(HealthChecksBucket); b != nil {
			stats.TotalHealthChecks = b.Stats().KeyN

			c := b.Cursor()
			if k, _ := c.First(); k != nil {
				stats.OldestEntry = timeFromKey(k).UTC()
			}
			if k, _ := c.Last(); k != nil {
				stats.NewestEntry = timeFromKey(k).UTC()
			}
		}
		if b := tx.Bucket(RecoveriesBucket); b != nil {
			stats.TotalRecoveries = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
