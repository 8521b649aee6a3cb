// Package credential keeps API tokens in the system keyring.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "tempo-booker"

// Keyring item names.
const (
	KeyTempoToken       = "tempo-token"
	KeyJiraToken        = "jira-token"
	KeyTempoOAuthToken  = "tempo-oauth-token"
	KeyTempoOAuthSecret = "tempo-oauth-secret"
)

// Environment variables that take precedence over the keyring.
const (
	EnvTempoToken = "TEMPO_API_TOKEN"
	EnvJiraToken  = "JIRA_API_TOKEN"
)

// ErrNotFound is returned when a credential is not stored.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes credentials.
type Store struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// Open returns a Store backed by the platform keyring, falling back to an
// encrypted file under ~/.tbk/credentials.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.tbk/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("tempo-booker-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring, getenv: os.Getenv}
}

// Get retrieves a credential by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential by key.
func (s *Store) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential. Removing a missing credential is not an error.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Has reports whether key is stored.
func (s *Store) Has(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

func (s *Store) envOrKey(env, key string) (string, error) {
	if v := s.getenv(env); v != "" {
		return v, nil
	}
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// TempoToken returns the Tempo API token, or "" when none is configured.
func (s *Store) TempoToken() (string, error) {
	return s.envOrKey(EnvTempoToken, KeyTempoToken)
}

// JiraToken returns the Jira API token, or "" when none is configured.
func (s *Store) JiraToken() (string, error) {
	return s.envOrKey(EnvJiraToken, KeyJiraToken)
}

// LoadToken returns the stored Tempo OAuth token, or nil when there is none.
func (s *Store) LoadToken() (*oauth2.Token, error) {
	raw, err := s.Get(KeyTempoOAuthToken)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("corrupt oauth token (run `tbk auth clear tempo`): %w", err)
	}
	return &tok, nil
}

// SaveToken persists a Tempo OAuth token.
func (s *Store) SaveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	return s.Set(KeyTempoOAuthToken, string(data))
}
