// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keychain stores the translator API key in the OS credential store
// so it never has to sit in the config file. macOS uses the security command
// when available; other platforms go through 99designs/keyring with native
// backends only.
package keychain

import (
	"errors"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keychain/credential store namespace.
const ServiceName = "nlcube"

// KeyTranslatorAPIKey names the stored translator API key.
const KeyTranslatorAPIKey = "translator_api_key"

// ErrNotFound is returned when no key is stored.
var ErrNotFound = errors.New("no API key stored in the keychain")

var (
	globalManager *Manager
	mu            sync.Mutex
)

// Manager provides thread-safe access to the stored secrets.
type Manager struct {
	mu      sync.RWMutex
	ring    keyring.Keyring
	backend keychainBackend
}

type keychainBackend interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// NewManager opens the OS credential store.
func NewManager() (*Manager, error) {
	if runtime.GOOS == "darwin" {
		if backend, err := newSecurityBackend(); err == nil {
			return &Manager{backend: backend}, nil
		}
	}
	ring, err := openRing()
	if err != nil {
		return nil, err
	}
	return &Manager{ring: ring}, nil
}

// NewWithKeyring wraps an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// GetManager returns the process-wide manager, retrying initialization after
// a failure.
func GetManager() (*Manager, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalManager != nil {
		return globalManager, nil
	}
	m, err := NewManager()
	if err != nil {
		return nil, err
	}
	globalManager = m
	return m, nil
}

func openRing() (keyring.Keyring, error) {
	var allowed []keyring.BackendType
	switch runtime.GOOS {
	case "darwin":
		allowed = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		allowed = []keyring.BackendType{keyring.WinCredBackend}
	case "linux":
		allowed = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend}
	default:
		return nil, errors.New("secure storage not supported on " + runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:     ServiceName,
		AllowedBackends: allowed,
		PassPrefix:      ServiceName,
		WinCredPrefix:   ServiceName,
	})
	if err != nil {
		return nil, errors.New("no OS credential store available; set NLCUBE_TRANSLATOR_API_KEY instead: " + err.Error())
	}
	return ring, nil
}

// SaveAPIKey stores the translator API key.
func (m *Manager) SaveAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return m.backend.Set(KeyTranslatorAPIKey, key)
	}
	return m.ring.Set(keyring.Item{Key: KeyTranslatorAPIKey, Data: []byte(key), Label: "nlcube translator API key"})
}

// LoadAPIKey returns the stored key or ErrNotFound.
func (m *Manager) LoadAPIKey() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		key string
		err error
	)
	if m.backend != nil {
		key, err = m.backend.Get(KeyTranslatorAPIKey)
	} else {
		var it keyring.Item
		it, err = m.ring.Get(KeyTranslatorAPIKey)
		key = string(it.Data)
	}
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound), errors.Is(err, errSecurityNotFound):
		return "", ErrNotFound
	case err != nil:
		return "", err
	case key == "":
		return "", ErrNotFound
	}
	return key, nil
}

// ClearAPIKey removes the stored key; a missing key is not an error.
func (m *Manager) ClearAPIKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return m.backend.Delete(KeyTranslatorAPIKey)
	}
	if err := m.ring.Remove(KeyTranslatorAPIKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
