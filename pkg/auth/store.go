// Package auth stores the artifact registry token.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	tokenFileName  = "registry_token"
	keyringService = "riskscore"
	keyringUser    = "registry_token"
	fileMode       = 0600
)

// ErrNoToken is returned when no token is stored anywhere.
var ErrNoToken = errors.New("no token stored")

// TokenStore keeps the token in the OS keychain and falls back to a file in
// Dir when the keychain is unavailable.
type TokenStore struct {
	Dir string
}

func (s *TokenStore) path() string {
	return filepath.Join(s.Dir, tokenFileName)
}

// SaveToken stores token, preferring the keychain.
func (s *TokenStore) SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}

	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return s.saveFile(token)
	}

	// Clean up legacy file if it exists
	s.removeFile()
	return nil
}

// GetToken returns the stored token. A token found only in the file is
// migrated to the keychain when possible.
func (s *TokenStore) GetToken() (string, error) {
	// Try keychain first
	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token, nil
	}

	// Fall back to file
	token, err = s.readFile()
	if err != nil {
		return "", err
	}

	// Migrate to keychain
	if migrateErr := keyring.Set(keyringService, keyringUser, token); migrateErr == nil {
		slog.Info("migrated token from file to OS keychain")
		s.removeFile()
	}

	return token, nil
}

// DeleteToken removes the token from both the keychain and the file.
func (s *TokenStore) DeleteToken() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Warn("failed to delete token from keychain", "error", err)
	}
	s.removeFile()
	return nil
}

func (s *TokenStore) saveFile(token string) error {
	if s.Dir == "" {
		return errors.New("token directory required")
	}
	return os.WriteFile(s.path(), []byte(token), fileMode)
}

func (s *TokenStore) readFile() (string, error) {
	if s.Dir == "" {
		return "", ErrNoToken
	}
	b, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token file %s: %w", s.path(), err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (s *TokenStore) removeFile() {
	if s.Dir == "" {
		return
	}
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove token file", "error", err)
	}
}
