package store

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync"
)

// ErrEmptyPrefix is returned by [PrefixStore.Set] for an empty or
// whitespace-only prefix.
var ErrEmptyPrefix = errors.New("store: prefix must not be empty")

// PrefixStore maps guild IDs to the message prefix that triggers speech.
// Guilds without an entry use the configured default.
//
// PrefixStore is safe for concurrent use.
type PrefixStore struct {
	p   Persister
	def string

	mu       sync.RWMutex
	prefixes map[string]string
}

// NewPrefixStore loads the prefixes document from p. def is the prefix for
// guilds that never set one and may be empty (every message is spoken).
func NewPrefixStore(ctx context.Context, p Persister, def string) (*PrefixStore, error) {
	var doc map[string]string
	if err := loadDocument(ctx, p, PrefixesDocument, &doc); err != nil {
		return nil, err
	}
	prefixes := make(map[string]string, len(doc))
	for guild, prefix := range doc {
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		prefixes[guild] = prefix
	}
	slog.Debug("store: prefixes loaded", "count", len(prefixes))
	return &PrefixStore{p: p, def: def, prefixes: prefixes}, nil
}

// Default returns the prefix used by guilds without an entry.
func (s *PrefixStore) Default() string { return s.def }

// Get returns the guild's prefix, or the default.
func (s *PrefixStore) Get(guildID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefixes[guildID]; ok {
		return p
	}
	return s.def
}

// Set overwrites the guild's prefix.
func (s *PrefixStore) Set(ctx context.Context, guildID, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return ErrEmptyPrefix
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.prefixes[guildID]; ok && cur == prefix {
		return nil
	}

	next := maps.Clone(s.prefixes)
	if next == nil {
		next = make(map[string]string)
	}
	next[guildID] = prefix
	if err := saveDocument(ctx, s.p, PrefixesDocument, next); err != nil {
		return err
	}
	s.prefixes = next
	return nil
}
