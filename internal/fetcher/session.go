package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"
)

// Cookie is the persisted form of one browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Expired reports whether the cookie's expiry has passed. Session
// cookies (no expiry) never report expired here.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && float64(now.Unix()) >= c.Expires
}

// SessionStore persists cookies to a JSON file between runs so repeat
// visits look like a returning browser session rather than a fresh
// automation profile.
type SessionStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSessionStore creates a store backed by the given file path. The
// file does not need to exist yet.
func NewSessionStore(path string, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		path:   path,
		logger: logger.With("component", "session_store"),
	}
}

// Path returns the backing file path.
func (s *SessionStore) Path() string { return s.path }

// Load reads the persisted cookies, dropping any that have expired. A
// missing or unreadable file is not an error; the run simply starts
// with a fresh session.
func (s *SessionStore) Load() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read session file", "path", s.path, "error", err)
		}
		return nil
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		s.logger.Warn("session file is corrupt, starting fresh", "path", s.path, "error", err)
		return nil
	}

	now := time.Now()
	kept := cookies[:0]
	for _, c := range cookies {
		if !c.Expired(now) {
			kept = append(kept, c)
		}
	}
	s.logger.Debug("session loaded", "cookies", len(kept), "expired", len(cookies)-len(kept))
	return kept
}

// Save writes the cookies atomically via a temp file and rename.
func (s *SessionStore) Save(cookies []Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cookies); err != nil {
		f.Close()
		return fmt.Errorf("encode session: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}

	s.logger.Debug("session saved", "cookies", len(cookies), "path", s.path)
	return nil
}
