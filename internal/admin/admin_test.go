package admin

import (
	"path/filepath"
	"testing"

	"github.com/nullbyte-labs/mqttbroker/internal/adminstore"
	"github.com/nullbyte-labs/mqttbroker/internal/broker"
	"github.com/nullbyte-labs/mqttbroker/internal/config"
)

func newTestBroker() *broker.Broker {
	cfg := config.Config{}
	cfg.SetDefaults()
	return broker.New(cfg, nil, nil, nil)
}

func TestAddAndRemoveUserWithoutStore(t *testing.T) {
	s := New(newTestBroker(), nil, nil)
	if err := s.AddUser("alice", "s3cret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	users := s.ListUsers()
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("got %v", users)
	}
	if err := s.RemoveUser("alice"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if err := s.RemoveUser("alice"); err == nil {
		t.Fatal("expected error removing already-removed user")
	}
}

func TestAddUserPersistsToStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.db")
	store, err := adminstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	s := New(newTestBroker(), store, nil)
	if err := s.AddUser("alice", "s3cret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	persisted, err := store.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if persisted["alice"] != "s3cret" {
		t.Fatalf("got %v", persisted)
	}
}

func TestLoadPersistedAppliesSavedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.db")
	store, err := adminstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.SaveUser("alice", "s3cret"); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	cfg := config.Config{}
	cfg.SetDefaults()
	cfg.Limits.MaxConnections = 7
	if err := store.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	s := New(newTestBroker(), store, nil)
	if err := s.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}

	if got := s.GetConfig().Limits.MaxConnections; got != 7 {
		t.Fatalf("got max_connections %d, want 7", got)
	}
	users := s.ListUsers()
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("got users %v", users)
	}
}

func TestInjectPublishWithEmptySenderDoesNotPanic(t *testing.T) {
	b := newTestBroker()
	s := New(b, nil, nil)
	// InjectPublish with an empty sender id and no subscribers must not
	// panic. Which sender id is substituted is not observed here; fan-out
	// through InjectPublish is covered by the broker package's own tests.
	s.InjectPublish("", "topic", []byte("hi"), 0)
}
