// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
)

// MemoryStore is an in-memory key-value store holding JSON documents.
// The zero value is not usable; use NewMemoryStore.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte

	// FailWrites makes SetData return the error when non-nil.
	FailWrites error
	writes     int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// GetData decodes the value stored under key into dest.
func (s *MemoryStore) GetData(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetData stores value under key as JSON. A nil value deletes the key.
func (s *MemoryStore) SetData(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.writes++
	if isNil(value) {
		delete(s.data, key)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if bytes.Equal(raw, []byte("null")) {
		delete(s.data, key)
		return nil
	}
	s.data[key] = raw
	return nil
}

// Has reports whether key is present.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// Keys returns the stored keys, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes returns the number of successful SetData calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
