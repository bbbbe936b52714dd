package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// Mirror persists a copy of the session credential so a restarted process can
// pick up its session again. Implementations must be safe for concurrent use.
//
// Load returns ErrNoStoredCredential when nothing is persisted. Clearing an
// empty mirror is not an error.
type Mirror interface {
	Save(credential Credential) error
	Load() (Credential, error)
	Clear() error
}

// keyringCredentialKey is the item name under the configured service.
const keyringCredentialKey = "session-credential"

// KeyringMirror stores the credential as JSON in the operating system
// keyring (Keychain on macOS, Secret Service on Linux, Credential Manager on
// Windows).
type KeyringMirror struct {
	service string
}

// NewKeyringMirror creates a keyring-backed mirror. The service name
// namespaces the entry per application (e.g. "sre-copilot").
func NewKeyringMirror(service string) (*KeyringMirror, error) {
	if service == "" {
		return nil, errors.New("session: keyring service name is required")
	}
	return &KeyringMirror{service: service}, nil
}

// Save persists the credential, replacing any previous entry.
func (m *KeyringMirror) Save(credential Credential) error {
	payload, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("session: failed to encode credential: %w", err)
	}
	if err := keyring.Set(m.service, keyringCredentialKey, string(payload)); err != nil {
		return fmt.Errorf("session: keyring write failed: %w", err)
	}
	return nil
}

// Load reads the persisted credential.
func (m *KeyringMirror) Load() (Credential, error) {
	payload, err := keyring.Get(m.service, keyringCredentialKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credential{}, ErrNoStoredCredential
		}
		return Credential{}, fmt.Errorf("session: keyring read failed: %w", err)
	}

	var credential Credential
	if err := json.Unmarshal([]byte(payload), &credential); err != nil {
		return Credential{}, fmt.Errorf("session: stored credential is corrupt: %w", err)
	}
	return credential, nil
}

// Clear removes the persisted credential.
func (m *KeyringMirror) Clear() error {
	err := keyring.Delete(m.service, keyringCredentialKey)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("session: keyring delete failed: %w", err)
	}
	return nil
}

// MemoryMirror is an in-memory Mirror for tests and short-lived processes.
type MemoryMirror struct {
	mu         sync.Mutex
	credential *Credential
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{}
}

// Save stores a copy of the credential.
func (m *MemoryMirror) Save(credential Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := credential.Clone()
	m.credential = &clone
	return nil
}

// Load returns the stored credential.
func (m *MemoryMirror) Load() (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.credential == nil {
		return Credential{}, ErrNoStoredCredential
	}
	return m.credential.Clone(), nil
}

// Clear drops the stored credential.
func (m *MemoryMirror) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credential = nil
	return nil
}
