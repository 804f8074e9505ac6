// Package profile persists the audio profile identifier sent with every
// request so the server can keep per-device audio settings.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the file name used under the user config directory.
const DefaultFile = "profile.yaml"

// DefaultPath returns the OS specific default location of the profile file
// (e.g. ~/.config/voxquery/profile.yaml on Linux).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "voxquery", DefaultFile), nil
}

type document struct {
	AudioProfileID string `yaml:"audio_profile_id"`
}

// FileStore keeps the identifier in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Reset.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the stored identifier, or "" if none was stored yet.
func (s *FileStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return "", err
	}
	return doc.AudioProfileID, nil
}

// Reset stores a newly generated identifier and returns it.
func (s *FileStore) Reset() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset()
}

// EnsureID returns the stored identifier, generating one if none exists.
func (s *FileStore) EnsureID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return "", err
	}
	if doc.AudioProfileID != "" {
		return doc.AudioProfileID, nil
	}
	return s.reset()
}

func (s *FileStore) reset() (string, error) {
	id := uuid.NewString()
	if err := s.write(document{AudioProfileID: id}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) read() (document, error) {
	var doc document
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("unable to read profile file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("unable to parse profile file: %w", err)
	}
	return doc, nil
}

func (s *FileStore) write(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("unable to create profile directory: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("unable to encode profile: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("unable to write profile file: %w", err)
	}
	return nil
}
