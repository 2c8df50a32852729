// Package admin implements the in-process administrative surface spec §6
// describes: the operation set the (out-of-scope) HTTP control panel and
// test-client tooling call into. It wraps a *broker.Broker and an optional
// *adminstore.Store so configuration and user-directory edits survive a
// restart without touching protocol state.
package admin

import (
	"fmt"
	"log"

	"github.com/nullbyte-labs/mqttbroker/internal/adminstore"
	"github.com/nullbyte-labs/mqttbroker/internal/broker"
	"github.com/nullbyte-labs/mqttbroker/internal/config"
)

// Surface is the administrative operation set. A nil store disables
// persistence: edits still apply to the live broker, they just do not
// survive a restart.
type Surface struct {
	broker *broker.Broker
	store  *adminstore.Store
	logger *log.Logger
}

// New wraps broker b with an optional persistence store.
func New(b *broker.Broker, store *adminstore.Store, logger *log.Logger) *Surface {
	if logger == nil {
		logger = log.Default()
	}
	return &Surface{broker: b, store: store, logger: logger}
}

// GetConfig returns the broker's current configuration.
func (s *Surface) GetConfig() config.Config {
	return s.broker.GetConfig()
}

// UpdateConfig applies a new configuration to the live broker and, if
// persistence is enabled, saves it for the next startup. Per spec §3 this
// never re-binds the listener.
func (s *Surface) UpdateConfig(cfg config.Config) error {
	s.broker.UpdateConfig(cfg)
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveConfig(cfg); err != nil {
		s.logger.Printf("admin: failed to persist config update: %v", err)
		return fmt.Errorf("admin: config applied but not persisted: %w", err)
	}
	return nil
}

// ListUsers returns every username in the directory.
func (s *Surface) ListUsers() []string {
	return s.broker.ListUsers()
}

// AddUser inserts or overwrites a username/password entry, persisting it if
// a store is configured.
func (s *Surface) AddUser(username, password string) error {
	s.broker.AddUser(username, password)
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveUser(username, password); err != nil {
		s.logger.Printf("admin: failed to persist new user %q: %v", username, err)
		return fmt.Errorf("admin: user added but not persisted: %w", err)
	}
	return nil
}

// RemoveUser deletes a username from the directory, returning an error if it
// was not present.
func (s *Surface) RemoveUser(username string) error {
	if err := s.broker.RemoveUser(username); err != nil {
		return err
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.DeleteUser(username); err != nil {
		s.logger.Printf("admin: failed to persist user removal %q: %v", username, err)
		return fmt.Errorf("admin: user removed but not persisted: %w", err)
	}
	return nil
}

// ListClients returns a snapshot of the client registry.
func (s *Surface) ListClients() map[string]broker.ClientInfo {
	return s.broker.ListClients()
}

// ListTopics returns a snapshot of the subscription index.
func (s *Surface) ListTopics() map[string][]string {
	return s.broker.ListTopics()
}

// InjectPublish routes a message as if published by senderID. Per spec §9
// the original admin "connect" shim never creates a real registry entry for
// its sender identity — this call preserves that by never requiring one.
// If senderID is empty it defaults to "admin", matching the original
// implementation's default.
func (s *Surface) InjectPublish(senderID, topic string, payload []byte, qos byte) {
	if senderID == "" {
		senderID = "admin"
	}
	s.broker.InjectPublish(senderID, topic, payload, qos)
}

// LoadPersisted loads any previously saved users and configuration into the
// broker at startup. It is a no-op if no store is configured.
func (s *Surface) LoadPersisted() error {
	if s.store == nil {
		return nil
	}
	users, err := s.store.LoadUsers()
	if err != nil {
		return fmt.Errorf("admin: failed to load persisted users: %w", err)
	}
	for username, password := range users {
		s.broker.AddUser(username, password)
	}

	cfg, ok, err := s.store.LoadConfig()
	if err != nil {
		return fmt.Errorf("admin: failed to load persisted config: %w", err)
	}
	if ok {
		s.broker.UpdateConfig(cfg)
	}
	return nil
}
