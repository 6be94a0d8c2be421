package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// memPersister is an in-memory Persister whose Save can be made to fail.
type memPersister struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saveErr error
	loadErr error
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{docs: make(map[string][]byte)}
}

func (m *memPersister) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	b, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(b), nil
}

func (m *memPersister) Save(_ context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[name] = slices.Clone(body)
	m.saves++
	return nil
}

func (m *memPersister) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memPersister) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memPersister) doc(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.docs[name])
}

func mustVoiceStore(t *testing.T, p Persister) *VoiceStore {
	t.Helper()
	s, err := NewVoiceStore(context.Background(), p, tts.Paul)
	if err != nil {
		t.Fatalf("NewVoiceStore: %v", err)
	}
	return s
}

func betty(t *testing.T) tts.VoiceProfile {
	t.Helper()
	v, err := tts.LookupPreset("Betty")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}
	return v
}

// ---------------------------------------------------------------------------
// VoiceStore
// ---------------------------------------------------------------------------

func TestVoiceStore_DefaultOnMiss(t *testing.T) {
	t.Parallel()

	s := mustVoiceStore(t, newMemPersister())
	if got := s.Get("u1"); got != tts.Paul {
		t.Error("Get on empty store did not return the default")
	}
	if _, ok := s.Lookup("u1"); ok {
		t.Error("Lookup reported a stored profile")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestVoiceStore_SetGetRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s := mustVoiceStore(t, p)
	want := betty(t)

	if err := s.Set(ctx, "u1", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get("u1"); got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	// A fresh store over the same persister sees the write.
	if got := mustVoiceStore(t, p).Get("u1"); got != want {
		t.Error("profile not persisted")
	}

	if err := s.Remove(ctx, "u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.Get("u1"); got != tts.Paul {
		t.Error("Get after Remove did not return the default")
	}
	if got := mustVoiceStore(t, p).Len(); got != 0 {
		t.Errorf("persisted Len after Remove = %d, want 0", got)
	}
}

func TestVoiceStore_SetInvalidLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s := mustVoiceStore(t, p)
	if err := s.Set(ctx, "u1", betty(t)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	saves := p.saveCount()

	bad := betty(t)
	bad.HeadSize = 200
	err := s.Set(ctx, "u1", bad)
	if !errors.Is(err, tts.ErrInvalidVoice) {
		t.Fatalf("Set error = %v, want ErrInvalidVoice", err)
	}
	if got := s.Get("u1"); got != betty(t) {
		t.Error("invalid Set changed the stored profile")
	}
	if p.saveCount() != saves {
		t.Error("invalid Set wrote to the persister")
	}
}

func TestVoiceStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mustVoiceStore(t, newMemPersister())

	got, err := s.Update(ctx, "u1", tts.VoicePatch{"ap": 200})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := tts.Paul
	want.AveragePitch = 200
	if got != want || s.Get("u1") != want {
		t.Errorf("Update result = %+v, want %+v", got, want)
	}

	// A second patch merges into the stored profile, not the default.
	got, err = s.Update(ctx, "u1", tts.VoicePatch{"sx": 0})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.AveragePitch != 200 || got.Sex != 0 {
		t.Errorf("second Update = ap %d sx %d, want ap 200 sx 0", got.AveragePitch, got.Sex)
	}

	tests := []struct {
		name  string
		patch tts.VoicePatch
		is    error
	}{
		{name: "out of range", patch: tts.VoicePatch{"ap": 10}, is: tts.ErrInvalidVoice},
		{name: "unknown key", patch: tts.VoicePatch{"xx": 1}},
	}
	for _, tt := range tests {
		before := s.Get("u1")
		_, err := s.Update(ctx, "u1", tt.patch)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
		if tt.is != nil && !errors.Is(err, tt.is) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.is)
		}
		if s.Get("u1") != before {
			t.Errorf("%s: failed Update changed the stored profile", tt.name)
		}
	}
}

func TestVoiceStore_ConcurrentUpdatesDoNotLoseFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mustVoiceStore(t, newMemPersister())

	keys := []string{"ap", "pr", "hs", "ri", "sm", "qu"}
	vals := []int{111, 112, 113, 44, 45, 46}
	var wg sync.WaitGroup
	for i := range keys {
		wg.Go(func() {
			if _, err := s.Update(ctx, "u1", tts.VoicePatch{keys[i]: vals[i]}); err != nil {
				t.Errorf("Update %s: %v", keys[i], err)
			}
		})
	}
	wg.Wait()

	got := s.Get("u1")
	for i, key := range keys {
		p, _ := tts.LookupParam(key)
		if v := p.Get(got); v != vals[i] {
			t.Errorf("%s = %d, want %d", key, v, vals[i])
		}
	}
}

func TestVoiceStore_PersistenceFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s := mustVoiceStore(t, p)
	if err := s.Set(ctx, "u1", betty(t)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before := p.doc(VoicesDocument)

	p.failSaves(errors.New("disk full"))

	if err := s.Set(ctx, "u2", betty(t)); !errors.Is(err, ErrPersistence) {
		t.Errorf("Set error = %v, want ErrPersistence", err)
	}
	if _, ok := s.Lookup("u2"); ok {
		t.Error("failed Set is visible in memory")
	}
	if _, err := s.Update(ctx, "u1", tts.VoicePatch{"ap": 300}); !errors.Is(err, ErrPersistence) {
		t.Errorf("Update error = %v, want ErrPersistence", err)
	}
	if s.Get("u1") != betty(t) {
		t.Error("failed Update is visible in memory")
	}
	if err := s.Remove(ctx, "u1"); !errors.Is(err, ErrPersistence) {
		t.Errorf("Remove error = %v, want ErrPersistence", err)
	}
	if _, ok := s.Lookup("u1"); !ok {
		t.Error("failed Remove is visible in memory")
	}
	if p.doc(VoicesDocument) != before {
		t.Error("durable document changed")
	}
}

func TestNewVoiceStore_LoadHandling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("partial and invalid entries", func(t *testing.T) {
		t.Parallel()
		p := newMemPersister()
		p.docs[VoicesDocument] = []byte("u1:\n  ap: 200\nu2:\n  ap: 9999\nu3:\n  zz: 1\n")
		s, err := NewVoiceStore(ctx, p, tts.Paul)
		if err != nil {
			t.Fatalf("NewVoiceStore: %v", err)
		}
		if s.Len() != 1 {
			t.Errorf("Len = %d, want 1", s.Len())
		}
		want := tts.Paul
		want.AveragePitch = 200
		if s.Get("u1") != want {
			t.Error("partial entry not merged onto default")
		}
	})

	t.Run("corrupt document", func(t *testing.T) {
		t.Parallel()
		p := newMemPersister()
		p.docs[VoicesDocument] = []byte("[not a map")
		if _, err := NewVoiceStore(ctx, p, tts.Paul); !errors.Is(err, ErrPersistence) {
			t.Errorf("error = %v, want ErrPersistence", err)
		}
	})

	t.Run("load error", func(t *testing.T) {
		t.Parallel()
		p := newMemPersister()
		p.loadErr = errors.New("connection refused")
		if _, err := NewVoiceStore(ctx, p, tts.Paul); !errors.Is(err, ErrPersistence) {
			t.Errorf("error = %v, want ErrPersistence", err)
		}
	})

	t.Run("invalid default", func(t *testing.T) {
		t.Parallel()
		if _, err := NewVoiceStore(ctx, newMemPersister(), tts.VoiceProfile{}); err == nil {
			t.Error("expected error for invalid default")
		}
	})
}

// ---------------------------------------------------------------------------
// MuteStore
// ---------------------------------------------------------------------------

func TestMuteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s, err := NewMuteStore(ctx, p)
	if err != nil {
		t.Fatalf("NewMuteStore: %v", err)
	}

	if s.Get("g1", "u1") {
		t.Error("unset user reported muted")
	}
	for _, u := range []string{"u3", "u1", "u2"} {
		if err := s.Set(ctx, "g1", u, true); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if !s.Get("g1", "u1") {
		t.Error("muted user not reported")
	}
	if s.Get("g2", "u1") {
		t.Error("mute leaked across guilds")
	}
	if got := s.Muted("g1"); !slices.Equal(got, []string{"u1", "u2", "u3"}) {
		t.Errorf("Muted = %v", got)
	}

	saves := p.saveCount()
	if err := s.Set(ctx, "g1", "u1", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p.saveCount() != saves {
		t.Error("no-op Set wrote to the persister")
	}

	if err := s.Set(ctx, "g1", "u2", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	reloaded, err := NewMuteStore(ctx, p)
	if err != nil {
		t.Fatalf("NewMuteStore: %v", err)
	}
	if got := reloaded.Muted("g1"); !slices.Equal(got, []string{"u1", "u3"}) {
		t.Errorf("reloaded Muted = %v", got)
	}
	if want := "g1:\n    - u1\n    - u3\n"; p.doc(MutesDocument) != want {
		t.Errorf("document = %q, want %q", p.doc(MutesDocument), want)
	}
}

func TestMuteStore_PersistenceFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s, err := NewMuteStore(ctx, p)
	if err != nil {
		t.Fatalf("NewMuteStore: %v", err)
	}
	p.failSaves(errors.New("read-only file system"))

	if err := s.Set(ctx, "g1", "u1", true); !errors.Is(err, ErrPersistence) {
		t.Errorf("Set error = %v, want ErrPersistence", err)
	}
	if s.Get("g1", "u1") {
		t.Error("failed Set is visible in memory")
	}
}

// ---------------------------------------------------------------------------
// PrefixStore
// ---------------------------------------------------------------------------

func TestPrefixStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s, err := NewPrefixStore(ctx, p, ";")
	if err != nil {
		t.Fatalf("NewPrefixStore: %v", err)
	}

	if got := s.Get("g1"); got != ";" {
		t.Errorf("Get default = %q, want ;", got)
	}
	if err := s.Set(ctx, "g1", "!tts "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get("g1"); got != "!tts " {
		t.Errorf("Get = %q, want %q", got, "!tts ")
	}
	if got := s.Get("g2"); got != ";" {
		t.Errorf("other guild = %q, want default", got)
	}

	for _, bad := range []string{"", "   "} {
		if err := s.Set(ctx, "g1", bad); !errors.Is(err, ErrEmptyPrefix) {
			t.Errorf("Set(%q) error = %v, want ErrEmptyPrefix", bad, err)
		}
	}
	if got := s.Get("g1"); got != "!tts " {
		t.Error("rejected Set changed the prefix")
	}

	reloaded, err := NewPrefixStore(ctx, p, ";")
	if err != nil {
		t.Fatalf("NewPrefixStore: %v", err)
	}
	if got := reloaded.Get("g1"); got != "!tts " {
		t.Errorf("reloaded Get = %q", got)
	}
	if reloaded.Default() != ";" {
		t.Errorf("Default = %q", reloaded.Default())
	}
}

func TestPrefixStore_PersistenceFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	s, err := NewPrefixStore(ctx, p, ";")
	if err != nil {
		t.Fatalf("NewPrefixStore: %v", err)
	}
	p.failSaves(errors.New("disk full"))
	if err := s.Set(ctx, "g1", "!"); !errors.Is(err, ErrPersistence) {
		t.Errorf("Set error = %v, want ErrPersistence", err)
	}
	if s.Get("g1") != ";" {
		t.Error("failed Set is visible in memory")
	}
}
