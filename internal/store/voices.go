package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// VoiceStore maps user IDs to their DECtalk [tts.VoiceProfile].
//
// Users without an entry get the default profile, which is never written.
// Every stored profile passes [tts.VoiceProfile.Validate].
//
// VoiceStore is safe for concurrent use.
type VoiceStore struct {
	p   Persister
	def tts.VoiceProfile

	mu     sync.RWMutex
	voices map[string]tts.VoiceProfile
}

// NewVoiceStore loads the voices document from p. Stored profiles are read
// as patches on top of def, so entries written before a parameter existed
// still load; entries that end up invalid are dropped with a warning.
func NewVoiceStore(ctx context.Context, p Persister, def tts.VoiceProfile) (*VoiceStore, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("store: default voice: %w", err)
	}

	var doc map[string]tts.VoicePatch
	if err := loadDocument(ctx, p, VoicesDocument, &doc); err != nil {
		return nil, err
	}

	voices := make(map[string]tts.VoiceProfile, len(doc))
	for user, patch := range doc {
		v, err := def.Apply(patch)
		if err == nil {
			err = v.Validate()
		}
		if err != nil {
			slog.Warn("store: dropping invalid stored voice", "user_id", user, "error", err)
			continue
		}
		voices[user] = v
	}

	slog.Debug("store: voices loaded", "count", len(voices))
	return &VoiceStore{p: p, def: def, voices: voices}, nil
}

// Default returns the profile used for users without a stored voice.
func (s *VoiceStore) Default() tts.VoiceProfile { return s.def }

// Get returns the user's profile, or the default if none is stored.
func (s *VoiceStore) Get(userID string) tts.VoiceProfile {
	v, _ := s.Lookup(userID)
	return v
}

// Lookup is like Get but also reports whether a profile was stored.
func (s *VoiceStore) Lookup(userID string) (tts.VoiceProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.voices[userID]; ok {
		return v, true
	}
	return s.def, false
}

// Set stores v for the user. An out-of-range profile is rejected with a
// [*tts.ValidationError] and nothing changes.
func (s *VoiceStore) Set(ctx context.Context, userID string, v tts.VoiceProfile) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, func(m map[string]tts.VoiceProfile) { m[userID] = v })
}

// Update merges patch into the user's current profile (or the default),
// validates the result and stores it. The read, merge and write happen under
// one lock so concurrent updates for the same user do not lose fields.
func (s *VoiceStore) Update(ctx context.Context, userID string, patch tts.VoicePatch) (tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.voices[userID]
	if !ok {
		cur = s.def
	}
	next, err := cur.Apply(patch)
	if err != nil {
		return cur, err
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}
	if err := s.commitLocked(ctx, func(m map[string]tts.VoiceProfile) { m[userID] = next }); err != nil {
		return cur, err
	}
	return next, nil
}

// Remove deletes the user's profile so they revert to the default. Removing
// a user without a profile is a no-op.
func (s *VoiceStore) Remove(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.voices[userID]; !ok {
		return nil
	}
	return s.commitLocked(ctx, func(m map[string]tts.VoiceProfile) { delete(m, userID) })
}

// Len returns the number of stored profiles.
func (s *VoiceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.voices)
}

// commitLocked applies mutate to a copy of the map, persists the copy and
// swaps it in. s.mu must be held for writing.
func (s *VoiceStore) commitLocked(ctx context.Context, mutate func(map[string]tts.VoiceProfile)) error {
	next := maps.Clone(s.voices)
	if next == nil {
		next = make(map[string]tts.VoiceProfile)
	}
	mutate(next)
	if err := saveDocument(ctx, s.p, VoicesDocument, next); err != nil {
		return err
	}
	s.voices = next
	return nil
}
