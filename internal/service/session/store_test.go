package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := NewFileStore(path)

	expiry := time.Now().Add(2 * time.Hour).Truncate(time.Millisecond)
	sess := &models.Session{
		Token:       "tok-1",
		TokenExpiry: expiry,
		User:        &models.User{ID: "u1", Name: "Rudo", Role: types.RoleDriver},
	}
	if err := s.Save(sess); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got.Token != "tok-1" {
		t.Errorf("Token = %q", got.Token)
	}
	// Expiry is stored as epoch milliseconds; precision below that is lost.
	if got.TokenExpiry.UnixMilli() != expiry.UnixMilli() {
		t.Errorf("TokenExpiry = %v, want %v", got.TokenExpiry, expiry)
	}
	if got.User == nil || got.User.Role != types.RoleDriver {
		t.Errorf("User = %+v", got.User)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	got, err := s.Load()
	if err != nil || got != nil {
		t.Errorf("Load() = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestFileStoreCorruptFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := loadFrom(t, path)
	if err != nil || got != nil {
		t.Errorf("Load() on corrupt file = (%+v, %v), want (nil, nil)", got, err)
	}
}

func loadFrom(t *testing.T, path string) (*models.Session, error) {
	t.Helper()
	return NewFileStore(path).Load()
}

func TestFileStoreRejectsTokenWithoutExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"token": "tok-1"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := loadFrom(t, path)
	if err != nil || got != nil {
		t.Errorf("a token without an expiry must load as absent, got (%+v, %v)", got, err)
	}

	s := NewFileStore(path)
	if err := s.Save(&models.Session{Token: "tok-1"}); err == nil {
		t.Error("Save() accepted a credential without an expiry")
	}
}

func TestFileStoreClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStore(path)

	if err := s.Save(&models.Session{Token: "tok", TokenExpiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear() = %v, want nil", err)
	}
	if got, _ := s.Load(); got != nil {
		t.Error("session survived Clear")
	}
}
