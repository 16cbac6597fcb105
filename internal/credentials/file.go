package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const sessionsFile = "sessions.json"

// fileEntry is the persisted form of a token.
type fileEntry struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitzero"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// fileConfig represents the sessions file.
type fileConfig struct {
	Version  int                  `json:"version"`
	Sessions map[string]fileEntry `json:"sessions"`
}

// FileStore persists one named token entry in a JSON file on the local filesystem.
// Several profiles share the file; each FileStore only touches its own entry.
type FileStore struct {
	baseDir string
	name    string

	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// DefaultDir returns ~/.electra.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".electra"), nil
}

// NewFileStore creates a file backed store for the named profile.
// If baseDir is empty, uses ~/.electra/
func NewFileStore(baseDir, name string) (*FileStore, error) {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if name == "" {
		name = DefaultProfile
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	store := &FileStore{baseDir: baseDir, name: name}

	log.Debug().Str("baseDir", baseDir).Str("profile", name).Msg("file token store initialized")

	return store, nil
}

// Path returns the location of the sessions file.
func (s *FileStore) Path() string {
	return filepath.Join(s.baseDir, sessionsFile)
}

// Get returns the token of this profile.
// An entry whose checksum does not match is reported as ErrNoToken.
func (s *FileStore) Get(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	entry, ok := cfg.Sessions[s.name]
	if !ok || entry.AccessToken == "" {
		return nil, ErrNoToken
	}

	if entry.Checksum != entryChecksum(entry) {
		log.Warn().Str("profile", s.name).Str("path", s.Path()).Msg("stored token failed checksum, ignoring it")
		return nil, ErrNoToken
	}

	return &oauth2.Token{
		AccessToken: entry.AccessToken,
		TokenType:   entry.TokenType,
		Expiry:      entry.Expiry,
	}, nil
}

// Set writes the token of this profile.
func (s *FileStore) Set(ctx context.Context, tok *oauth2.Token) error {
	if err := validate(tok); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	entry := fileEntry{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.Expiry.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	entry.Checksum = entryChecksum(entry)
	cfg.Sessions[s.name] = entry

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Debug().
		Str("profile", s.name).
		Str("fingerprint", Fingerprint(tok.AccessToken)).
		Msg("token stored")

	return nil
}

// Clear removes the entry of this profile.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Sessions[s.name]; !ok {
		return nil
	}
	delete(cfg.Sessions, s.name)

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Debug().Str("profile", s.name).Msg("token cleared")

	return nil
}

// loadConfig reads the sessions file, a missing file is an empty config.
func (s *FileStore) loadConfig() (*fileConfig, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &fileConfig{Version: 1, Sessions: make(map[string]fileEntry)}, nil
		}
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}

	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sessions file: %w", err)
	}

	// Ensure sessions map is initialized
	if cfg.Sessions == nil {
		cfg.Sessions = make(map[string]fileEntry)
	}

	return &cfg, nil
}

// saveConfig writes the sessions file atomically.
func (s *FileStore) saveConfig(cfg *fileConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	// Write to temp file first
	path := s.Path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write sessions file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save sessions file: %w", err)
	}

	return nil
}

// entryChecksum computes the CRC64-NVME checksum over the token fields of an entry.
func entryChecksum(e fileEntry) string {
	h := crc64nvme.New()
	h.Write([]byte(e.AccessToken))
	h.Write([]byte{0})
	h.Write([]byte(e.TokenType))
	h.Write([]byte{0})
	if !e.Expiry.IsZero() {
		h.Write([]byte(e.Expiry.UTC().Format(time.RFC3339Nano)))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
