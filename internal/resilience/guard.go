package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// TTSGuard implements [tts.Provider] by forwarding to an inner provider
// through a [CircuitBreaker].
//
// Only engine failures count against the breaker. Invalid voices and calls
// whose context the caller cancelled are returned unchanged and leave the
// failure count alone. While the breaker is open, Synthesize fails at once
// with a [*tts.SynthesisError] wrapping [ErrCircuitOpen].
type TTSGuard struct {
	inner tts.Provider
	cb    *CircuitBreaker
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSGuard)(nil)

// NewTTSGuard wraps inner. cfg.IsFailure is replaced with the engine-failure
// classification described on [TTSGuard].
func NewTTSGuard(inner tts.Provider, cfg CircuitBreakerConfig) *TTSGuard {
	if cfg.Name == "" {
		cfg.Name = "tts"
	}
	cfg.IsFailure = isEngineFailure
	return &TTSGuard{inner: inner, cb: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker for status reporting.
func (g *TTSGuard) Breaker() *CircuitBreaker { return g.cb }

// Synthesize implements [tts.Provider].
func (g *TTSGuard) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	var wav []byte
	err := g.cb.Execute(func() error {
		var err error
		wav, err = g.inner.Synthesize(ctx, text, voice)
		if err != nil && ctx.Err() != nil {
			return &callerCancelled{err: err}
		}
		return err
	})

	var cc *callerCancelled
	switch {
	case errors.As(err, &cc):
		return nil, cc.err
	case errors.Is(err, ErrCircuitOpen):
		return nil, &tts.SynthesisError{Err: err}
	case err != nil:
		return nil, err
	}
	return wav, nil
}

// callerCancelled marks an error that happened after the caller's context
// ended, so the breaker does not blame the engine.
type callerCancelled struct{ err error }

func (c *callerCancelled) Error() string { return c.err.Error() }
func (c *callerCancelled) Unwrap() error { return c.err }

func isEngineFailure(err error) bool {
	var cc *callerCancelled
	if errors.As(err, &cc) {
		return false
	}
	return !errors.Is(err, tts.ErrInvalidVoice)
}
