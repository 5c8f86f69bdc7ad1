package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
)

// Store persists the credential and the cached identity snapshot. The three
// pieces (token, expiry, identity) are always written and cleared together.
type Store interface {
	Load() (*models.Session, error) // (nil, nil) when nothing is stored
	Save(*models.Session) error
	Clear() error
}

// storedSession is the on-disk format. Expiry is absolute epoch milliseconds.
type storedSession struct {
	Token         string       `json:"token"`
	TokenExpiryMs int64        `json:"tokenExpiryMs"`
	User          *models.User `json:"user,omitempty"`
}

// FileStore keeps the session in a local JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*models.Session, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		// A corrupt session file is treated as absent, not fatal.
		return nil, nil
	}
	if stored.Token == "" || stored.TokenExpiryMs == 0 {
		// A token is never stored without a paired expiry.
		return nil, nil
	}

	return &models.Session{
		Token:       stored.Token,
		TokenExpiry: time.UnixMilli(stored.TokenExpiryMs),
		User:        stored.User,
	}, nil
}

func (s *FileStore) Save(sess *models.Session) error {
	if sess == nil || sess.Token == "" || sess.TokenExpiry.IsZero() {
		return errors.New("refusing to store a credential without an expiry")
	}

	raw, err := json.Marshal(storedSession{
		Token:         sess.Token,
		TokenExpiryMs: sess.TokenExpiry.UnixMilli(),
		User:          sess.User,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	// Write-then-rename so a crash never leaves a half-written credential.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryStore holds the session in memory only. Used in tests and by callers
// that opt out of persistence.
type MemoryStore struct {
	sess *models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*models.Session, error) {
	return s.sess, nil
}

func (s *MemoryStore) Save(sess *models.Session) error {
	s.sess = sess
	return nil
}

func (s *MemoryStore) Clear() error {
	s.sess = nil
	return nil
}
