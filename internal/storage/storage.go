// Package storage provides the client-side key/value stores the resolvers
// cache identity in: a durable store that survives restarts and a
// session-scoped store that lives as long as the browsing session.
package storage

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")
	// ErrUnavailable is returned by every operation on a store that is not
	// supported in this environment.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Store is a string key/value store. Supported reports whether the store
// can be used at all; callers degrade to no persistence when it can't.
type Store interface {
	Supported() bool
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// GetJSON decodes the JSON value stored under key into dst.
func GetJSON(s Store, key string, dst any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dst)
}

// SetJSON stores v under key as JSON.
func SetJSON(s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(key, string(b))
}

// Memory is an in-process store. It backs the session-scoped cache: its
// contents disappear with the process, the way a tab's session storage
// disappears with the tab.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Supported() bool { return true }

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Unavailable is a store that is never supported.
type Unavailable struct{}

func (Unavailable) Supported() bool            { return false }
func (Unavailable) Get(string) (string, error) { return "", ErrUnavailable }
func (Unavailable) Set(string, string) error   { return ErrUnavailable }
func (Unavailable) Remove(string) error        { return ErrUnavailable }
