// Package adminstore persists the broker's admin-surface state — the user
// directory and the last-applied configuration — across restarts. It is
// deliberately narrow: protocol state (sessions, subscriptions, in-flight
// QoS bookkeeping, retained messages) is never written here, since that
// would reintroduce persistence the protocol layer explicitly does not
// support.
package adminstore

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/nullbyte-labs/mqttbroker/internal/config"
)

var (
	usersBucket  = []byte("users")
	configBucket = []byte("config")
	configKey    = []byte("current")
)

// Store wraps a bbolt database holding the admin-surface snapshot.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("adminstore: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{usersBucket, configBucket} {
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

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadUsers returns every username/password pair persisted so far. An empty,
// non-nil map is returned if none have been saved.
func (s *Store) LoadUsers() (config.Users, error) {
	users := config.Users{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(usersBucket)
		return bucket.ForEach(func(k, v []byte) error {
			users[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("adminstore: failed to load users: %w", err)
	}
	return users, nil
}

// SaveUser persists a single username/password entry.
func (s *Store) SaveUser(username, password string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).Put([]byte(username), []byte(password))
	})
	if err != nil {
		return fmt.Errorf("adminstore: failed to save user %q: %w", username, err)
	}
	return nil
}

// DeleteUser removes a username from the persisted directory. Deleting an
// absent key is not an error; callers enforce not-found semantics.
func (s *Store) DeleteUser(username string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).Delete([]byte(username))
	})
	if err != nil {
		return fmt.Errorf("adminstore: failed to delete user %q: %w", username, err)
	}
	return nil
}

// LoadConfig returns the last-saved configuration, or ok=false if none has
// been saved yet.
func (s *Store) LoadConfig() (cfg config.Config, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(configBucket).Get(configKey)
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return config.Config{}, false, fmt.Errorf("adminstore: failed to load config: %w", err)
	}
	return cfg, ok, nil
}

// SaveConfig persists the current configuration, overwriting any prior save.
func (s *Store) SaveConfig(cfg config.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("adminstore: failed to marshal config: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(configBucket).Put(configKey, data)
	})
	if err != nil {
		return fmt.Errorf("adminstore: failed to save config: %w", err)
	}
	return nil
}
