package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/echoes-blog/echoes/internal/crypto"
)

// TokenStore persists the single bearer token attached to outgoing requests.
type TokenStore interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// MemoryStore keeps the token for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.SetToken("")
}

// FileStore keeps the token in a file so it survives restarts. A missing
// file means no token.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *crypto.Sealer
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// NewSealedFileStore keeps the token encrypted on disk.
func NewSealedFileStore(path string, sealer *crypto.Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

func (s *FileStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if s.sealer == nil || token == "" {
		return token, nil
	}
	plain, err := s.sealer.Open(token)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token file: %w", err)
	}
	return string(plain), nil
}

func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data := token
	if s.sealer != nil {
		sealed, err := s.sealer.Seal([]byte(token))
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		data = sealed
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// NewStore returns a FileStore when path is set and a MemoryStore otherwise.
// A non-empty keyHex encrypts the file.
func NewStore(path, keyHex string) (TokenStore, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	if keyHex == "" {
		return NewFileStore(path), nil
	}
	sealer, err := crypto.NewSealer(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to set up token encryption: %w", err)
	}
	return NewSealedFileStore(path, sealer), nil
}
