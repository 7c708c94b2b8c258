package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntry  = []byte("entry")
	keyEntryConf = []byte("config")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntry)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) GetEntryConfig() (*EntryConfig, error) {
	var cfg EntryConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntry)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEntry)
		}
		data := b.Get(keyEntryConf)
		if data == nil {
			return fmt.Errorf("entry config: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) SaveEntryConfig(cfg *EntryConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntry)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEntry)
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put(keyEntryConf, data)
	})
}

func (s *BoltStore) UpdateEntryConfig(fn func(cfg *EntryConfig) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntry)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEntry)
		}
		data := b.Get(keyEntryConf)
		if data == nil {
			return fmt.Errorf("entry config: %w", ErrNotFound)
		}
		var cfg EntryConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		out, err := json.Marshal(&cfg)
		if err != nil {
			return err
		}
		return b.Put(keyEntryConf, out)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
