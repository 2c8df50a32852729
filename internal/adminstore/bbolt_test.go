package adminstore

import (
	"path/filepath"
	"testing"

	"github.com/nullbyte-labs/mqttbroker/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admin.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveUser("alice", "s3cret"); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if err := s.SaveUser("bob", "hunter2"); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	users, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if users["alice"] != "s3cret" || users["bob"] != "hunter2" {
		t.Fatalf("got %v", users)
	}

	if err := s.DeleteUser("bob"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	users, err = s.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if _, ok := users["bob"]; ok {
		t.Fatal("expected bob removed")
	}
}

func TestDeleteAbsentUserIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteUser("nobody"); err != nil {
		t.Fatalf("DeleteUser on absent user: %v", err)
	}
}

func TestLoadConfigEmptyByDefault(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false before any SaveConfig")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	cfg := config.Config{}
	cfg.SetDefaults()
	cfg.Server.Port = 18830

	if err := s.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, ok, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after SaveConfig")
	}
	if loaded.Server.Port != 18830 {
		t.Fatalf("got port %d, want 18830", loaded.Server.Port)
	}
}
