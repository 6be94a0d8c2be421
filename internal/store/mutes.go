package store

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// MuteStore records which users are muted in which guild. A user that was
// never set is not muted.
//
// The durable form is guild → sorted list of muted user IDs.
//
// MuteStore is safe for concurrent use.
type MuteStore struct {
	p Persister

	mu    sync.RWMutex
	mutes map[string]map[string]struct{}
}

// NewMuteStore loads the mutes document from p.
func NewMuteStore(ctx context.Context, p Persister) (*MuteStore, error) {
	var doc map[string][]string
	if err := loadDocument(ctx, p, MutesDocument, &doc); err != nil {
		return nil, err
	}

	mutes := make(map[string]map[string]struct{}, len(doc))
	total := 0
	for guild, users := range doc {
		if len(users) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		mutes[guild] = set
		total += len(set)
	}

	slog.Debug("store: mutes loaded", "guilds", len(mutes), "users", total)
	return &MuteStore{p: p, mutes: mutes}, nil
}

// Get reports whether user is muted in guild.
func (s *MuteStore) Get(guildID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mutes[guildID][userID]
	return ok
}

// Set mutes or unmutes user in guild. Setting the current value is a no-op
// and does not write.
func (s *MuteStore) Set(ctx context.Context, guildID, userID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, cur := s.mutes[guildID][userID]; cur == muted {
		return nil
	}

	next := maps.Clone(s.mutes)
	if next == nil {
		next = make(map[string]map[string]struct{})
	}
	set := maps.Clone(next[guildID])
	if set == nil {
		set = make(map[string]struct{})
	}
	if muted {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
	if len(set) == 0 {
		delete(next, guildID)
	} else {
		next[guildID] = set
	}

	if err := saveDocument(ctx, s.p, MutesDocument, encodeMutes(next)); err != nil {
		return err
	}
	s.mutes = next
	return nil
}

// Muted returns the sorted IDs of users muted in guild.
func (s *MuteStore) Muted(guildID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.mutes[guildID]))
}

func encodeMutes(m map[string]map[string]struct{}) map[string][]string {
	doc := make(map[string][]string, len(m))
	for guild, set := range m {
		doc[guild] = slices.Sorted(maps.Keys(set))
	}
	return doc
}
