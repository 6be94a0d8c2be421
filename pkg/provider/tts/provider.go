// Package tts defines the Provider interface for text-to-speech backends and
// the DECtalk voice model shared by every part of the bot.
//
// A Provider turns a short, already length-capped text and a validated
// [VoiceProfile] into one WAV-encoded clip. Synthesis is a one-shot blocking
// call; callers bound it with ctx and must not hold locks while it runs.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrSynthesisFailed is matched by every [*SynthesisError].
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// Provider is the abstraction over a speech synthesis engine.
//
// Implementations must be safe for concurrent use. Several guilds may
// synthesise at the same time.
type Provider interface {
	// Synthesize renders text with voice and returns the encoded WAV bytes.
	//
	// Returns a [*SynthesisError] when the engine fails, times out, or
	// produces no output. Any temporary artifacts are gone by the time
	// Synthesize returns, on every path.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// SynthesisError reports a failed engine invocation.
type SynthesisError struct {
	// Diagnostic is the engine's standard error output, trimmed.
	Diagnostic string

	// Timeout is set when the call was aborted by its deadline.
	Timeout bool

	// Err is the underlying cause (exit status, I/O error, ...). May be nil.
	Err error
}

func (e *SynthesisError) Error() string {
	msg := "tts: synthesis failed"
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += fmt.Sprintf(": %q", e.Diagnostic)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSynthesisFailed) succeed.
func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesisFailed
}
