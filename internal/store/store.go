// Package store holds the bot's durable per-user and per-guild settings:
// voice profiles, mute flags and command prefixes.
//
// Each store keeps its whole mapping in memory behind one mutex and writes
// the full mapping through a [Persister] on every change. The in-memory map
// is replaced only after the write succeeds, so a failed write (matched by
// [ErrPersistence]) leaves both memory and the durable copy as they were.
//
// Reads never touch the persister and never fail.
package store

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	// ErrPersistence is wrapped by every failed durable write or load.
	ErrPersistence = errors.New("store: persistence failed")

	// ErrNotFound is returned by [Persister.Load] when a document has never
	// been saved.
	ErrNotFound = errors.New("store: document not found")
)

// Document names used by the three stores.
const (
	VoicesDocument   = "voices"
	MutesDocument    = "mutes"
	PrefixesDocument = "prefixes"
)

// Persister loads and saves whole named documents.
//
// Implementations must be safe for concurrent use and must make Save atomic:
// after a crash, Load returns either the previous or the new document.
type Persister interface {
	// Load returns the last saved body of name, or [ErrNotFound].
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the body of name.
	Save(ctx context.Context, name string, body []byte) error
}

// loadDocument decodes the named document into out. A missing document
// leaves out untouched.
func loadDocument(ctx context.Context, p Persister, name string, out any) error {
	body, err := p.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", ErrPersistence, name, err)
	}
	if err := yaml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrPersistence, name, err)
	}
	return nil
}

// saveDocument encodes v and writes it as the named document.
func saveDocument(ctx context.Context, p Persister, name string, v any) error {
	body, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, name, err)
	}
	if err := p.Save(ctx, name, body); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, name, err)
	}
	return nil
}
