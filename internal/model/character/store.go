package character

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned when a character id does not resolve.
var ErrNotFound = errors.New("character not found")

// Store exposes character retrieval for HTTP handlers.
type Store interface {
	List() []Character
	FindByID(id string) (Character, bool)
}

// MemoryStore implements Store with an in-memory slice loaded once at startup.
type MemoryStore struct {
	items []Character
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied characters.
func NewMemoryStore(items []Character) *MemoryStore {
	return &MemoryStore{items: append([]Character(nil), items...)}
}

// List returns the characters in dataset order.
func (s *MemoryStore) List() []Character {
	return append([]Character(nil), s.items...)
}

// FindByID looks up a character by identifier.
func (s *MemoryStore) FindByID(id string) (Character, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Character{}, false
}

// Len returns the number of characters held.
func (s *MemoryStore) Len() int {
	return len(s.items)
}

// LoadFile reads a JSON array of characters from path. Duplicate or
// incomplete records make the whole dataset invalid.
func LoadFile(path string) ([]Character, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character dataset: %w", err)
	}

	var items []Character
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode character dataset %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if !item.Valid() {
			return nil, fmt.Errorf("character #%d in %s: id and name are required", i, path)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("duplicate character id %q in %s", item.ID, path)
		}
		seen[item.ID] = struct{}{}
	}

	return items, nil
}
