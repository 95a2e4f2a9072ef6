package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uvensys/gatekeeper/lib/store"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("records")

// envelope is what actually lands in the database: the caller's bytes plus
// the absolute deadline. Keeping the deadline outside the payload lets the
// cleanup pass scan expiry times without decoding records. Data is opaque:
// callers store arbitrary bytes, not JSON.
type envelope struct {
	ExpiresAt time.Time `json:"expiresAt"`
	Data      []byte    `json:"data"`
}

// Store implements store.Interface backed by a single-file bbolt database.
//
// bbolt is not suitable for environments where multiple gatekeeper instances
// need to share a backend store. For that, use the valkey storage backend.
type Store struct {
	bdb *bbolt.DB
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil || bkt.Get([]byte(key)) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return bkt.Delete([]byte(key))
	})
}

// Get a value from the datastore. A record past its deadline is reported as
// not found and deleted in the background.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		raw := bkt.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
		}

		if time.Now().After(env.ExpiresAt) {
			go s.Delete(context.Background(), key)
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		result = make([]byte, len(env.Data))
		copy(result, env.Data)

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	raw, err := json.Marshal(envelope{
		ExpiresAt: time.Now().Add(expiry),
		Data:      value,
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %w", store.ErrCantEncode, key, err)
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("%w: %q (create bucket): %w", store.ErrCantEncode, key, err)
		}

		return bkt.Put([]byte(key), raw)
	})
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return nil
		}

		c := bkt.Cursor()
		for key, raw := c.First(); key != nil; key, raw = c.Next() {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				slog.Warn("undecodable record found during cleanup, file a bug?", "key", string(key))
				continue
			}

			if now.After(env.ExpiresAt) {
				if err := c.Delete(); err != nil {
					return fmt.Errorf("can't delete expired key %q: %w", string(key), err)
				}
			}
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
