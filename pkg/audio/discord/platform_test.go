package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/pkg/audio"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

type channelChange struct {
	channelID string
	mute      bool
	deaf      bool
}

type fakeVC struct {
	mu        sync.Mutex
	changes   []channelChange
	speaking  []bool
	changeErr error
	discErr   error
	discCount int
}

func (f *fakeVC) changeChannel(channelID string, mute, deaf bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, channelChange{channelID, mute, deaf})
	return f.changeErr
}

func (f *fakeVC) setSpeaking(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = append(f.speaking, b)
	return nil
}

func (f *fakeVC) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discCount++
	return f.discErr
}

// newTestConnection creates a Connection without a real Discord voice
// connection. OpusSend is a buffered channel the test can read from.
func newTestConnection(t *testing.T, sendBuf int) (*Connection, *fakeVC, chan []byte) {
	t.Helper()
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	fake := &fakeVC{}
	send := make(chan []byte, sendBuf)
	c := &Connection{
		guildID:       "guild-test",
		opus:          send,
		enc:           enc,
		conv:          audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}},
		channelID:     "voice-1",
		deafened:      true,
		done:          make(chan struct{}),
		changeChannel: fake.changeChannel,
		speaking:      fake.setSpeaking,
		disconnectVC:  fake.disconnect,
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, fake, send
}

type fakeJoiner struct {
	err error
}

func (f fakeJoiner) ChannelVoiceJoin(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
	return nil, f.err
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s)
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
}

func TestPlatform_JoinError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("voice handshake timeout")
	p := &Platform{session: fakeJoiner{err: sentinel}}
	conn, err := p.Join(context.Background(), "g1", "v1")
	if !errors.Is(err, sentinel) {
		t.Fatalf("Join error = %v, want %v", err, sentinel)
	}
	if conn != nil {
		t.Error("Join returned a connection on error")
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_PlayFramesAndPads(t *testing.T) {
	t.Parallel()

	c, fake, send := newTestConnection(t, 16)

	// Two full frames plus a fragment: expect three packets.
	clip := audio.Clip{PCM: make([]byte, 2*opusFrameBytes+100), SampleRate: opusSampleRate, Channels: opusChannels}
	if err := c.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := len(send); got != 3 {
		t.Errorf("sent %d packets, want 3", got)
	}
	for range len(send) {
		if p := <-send; len(p) == 0 {
			t.Error("empty Opus packet")
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.speaking) != 2 || !fake.speaking[0] || fake.speaking[1] {
		t.Errorf("speaking = %v, want [true false]", fake.speaking)
	}
}

func TestConnection_PlayConvertsEngineFormat(t *testing.T) {
	t.Parallel()

	c, _, send := newTestConnection(t, 64)

	// 0.1 s of 11025 Hz mono becomes 0.1 s at 48 kHz: 5 frames of 20 ms.
	clip := audio.Clip{PCM: make([]byte, 1102*2), SampleRate: 11025, Channels: 1}
	if err := c.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := len(send); got != 5 {
		t.Errorf("sent %d packets, want 5", got)
	}
}

func TestConnection_PlayEmptyClip(t *testing.T) {
	t.Parallel()

	c, fake, send := newTestConnection(t, 1)
	if err := c.Play(context.Background(), audio.Clip{SampleRate: 48000, Channels: 2}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(send) != 0 {
		t.Error("empty clip produced packets")
	}
	if len(fake.speaking) != 0 {
		t.Error("empty clip toggled speaking")
	}
}

func TestConnection_PlayCancelled(t *testing.T) {
	t.Parallel()

	// Unbuffered send channel that nobody reads.
	c, _, _ := newTestConnection(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	clip := audio.Clip{PCM: make([]byte, opusFrameBytes), SampleRate: opusSampleRate, Channels: opusChannels}
	if err := c.Play(ctx, clip); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Play error = %v, want DeadlineExceeded", err)
	}
}

func TestConnection_DisconnectUnblocksPlay(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestConnection(t, 0)
	errc := make(chan error, 1)
	go func() {
		clip := audio.Clip{PCM: make([]byte, opusFrameBytes), SampleRate: opusSampleRate, Channels: opusChannels}
		errc <- c.Play(context.Background(), clip)
	}()

	time.Sleep(20 * time.Millisecond)
	_ = c.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, errClosed) {
			t.Errorf("Play error = %v, want errClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Disconnect")
	}
}

func TestConnection_Deafen(t *testing.T) {
	t.Parallel()

	c, fake, _ := newTestConnection(t, 1)
	if err := c.Deafen(context.Background(), false); err != nil {
		t.Fatalf("Deafen: %v", err)
	}
	if c.Deafened() {
		t.Error("Deafened() = true after Deafen(false)")
	}

	fake.mu.Lock()
	fake.changeErr = errors.New("gateway closed")
	fake.mu.Unlock()
	if err := c.Deafen(context.Background(), true); err == nil {
		t.Fatal("expected Deafen error")
	}
	if c.Deafened() {
		t.Error("failed Deafen changed state")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	want := []channelChange{{"voice-1", false, false}, {"voice-1", false, true}}
	if len(fake.changes) != len(want) {
		t.Fatalf("changes = %v, want %v", fake.changes, want)
	}
	for i := range want {
		if fake.changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, fake.changes[i], want[i])
		}
	}
}

func TestConnection_MoveKeepsDeafen(t *testing.T) {
	t.Parallel()

	c, fake, _ := newTestConnection(t, 1)
	if err := c.Move(context.Background(), "voice-2"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := c.ChannelID(); got != "voice-2" {
		t.Errorf("ChannelID = %q, want voice-2", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.changes) != 1 || fake.changes[0] != (channelChange{"voice-2", false, true}) {
		t.Errorf("changes = %+v", fake.changes)
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c, fake, _ := newTestConnection(t, 1)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: %v", i, err)
		}
	}
	if fake.discCount != 1 {
		t.Errorf("vc disconnected %d times, want 1", fake.discCount)
	}
	if err := c.Move(context.Background(), "x"); !errors.Is(err, errClosed) {
		t.Errorf("Move after Disconnect = %v, want errClosed", err)
	}
	if err := c.Play(context.Background(), audio.Clip{}); !errors.Is(err, errClosed) {
		t.Errorf("Play after Disconnect = %v, want errClosed", err)
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c, fake, _ := newTestConnection(t, 1)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
	if fake.discCount != 1 {
		t.Errorf("vc disconnected %d times, want 1", fake.discCount)
	}
}

func TestOpusEncoder_RejectsPartialFrame(t *testing.T) {
	t.Parallel()

	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	if _, err := enc.encode(make([]byte, 100)); err == nil {
		t.Error("expected error for partial frame")
	}
}
