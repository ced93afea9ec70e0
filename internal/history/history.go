// Package history is the embedded time-series store backing the
// controller's rolling per-node history: append_sample, recent_samples,
// and an hourly retention sweep, satisfied with go.etcd.io/bbolt instead
// of a SQL engine.
package history

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nodemesh/meshlb/internal/meshapi"
)

var bucketName = []byte("history")

// RetentionWindow is how long a sample is kept before the sweep removes it.
const RetentionWindow = 24 * time.Hour

// MaxSamplesPerNode bounds per-node storage independently of the retention
// sweep: AppendSample drops the oldest samples beyond this count.
const MaxSamplesPerNode = 100000

// Store is a short-lived-transaction wrapper around one bbolt database
// file. Each operation opens, uses, and implicitly closes its own
// transaction; callers never hold the store open across unrelated I/O.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the history database at path, creating the bucket
// if absent.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSample appends one sample for the given node. History store write
// failures are reported to the caller, which per spec.md §7 must skip the
// sample rather than fail the poll tick.
func (s *Store) AppendSample(nodeName string, sample meshapi.HistorySample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		samples, err := decodeSamples(b.Get([]byte(nodeName)))
		if err != nil {
			return err
		}
		samples = append(samples, sample)
		if len(samples) > MaxSamplesPerNode {
			samples = samples[len(samples)-MaxSamplesPerNode:]
		}
		encoded, err := encodeSamples(samples)
		if err != nil {
			return err
		}
		return b.Put([]byte(nodeName), encoded)
	})
}

// RecentSamples returns the most recent n samples for a node, oldest-first.
func (s *Store) RecentSamples(nodeName string, n int) ([]meshapi.HistorySample, error) {
	var result []meshapi.HistorySample
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		samples, err := decodeSamples(b.Get([]byte(nodeName)))
		if err != nil {
			return err
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].TimestampS < samples[j].TimestampS })
		if len(samples) > n {
			samples = samples[len(samples)-n:]
		}
		result = samples
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent samples: %w", err)
	}
	return result, nil
}

// Sweep deletes every sample older than cutoff across all nodes, returning
// the number of rows removed.
func (s *Store) Sweep(cutoff int64) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			samples, err := decodeSamples(v)
			if err != nil {
				return err
			}
			kept := samples[:0]
			for _, sample := range samples {
				if sample.TimestampS < cutoff {
					deleted++
					continue
				}
				kept = append(kept, sample)
			}
			encoded, err := encodeSamples(kept)
			if err != nil {
				return err
			}
			// Bolt forbids mutating the bucket from inside ForEach's
			// callback on the same key via a deferred write; Put on the
			// current key is explicitly permitted.
			return b.Put(k, encoded)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("sweep history: %w", err)
	}
	return deleted, nil
}

func decodeSamples(raw []byte) ([]meshapi.HistorySample, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var samples []meshapi.HistorySample
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	return samples, nil
}

func encodeSamples(samples []meshapi.HistorySample) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(samples); err != nil {
		return nil, fmt.Errorf("encode samples: %w", err)
	}
	return buf.Bytes(), nil
}
