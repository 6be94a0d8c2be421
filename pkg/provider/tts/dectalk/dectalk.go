// Package dectalk provides a tts.Provider that drives the DECtalk "say"
// command-line synthesiser.
//
// Each call runs the binary once:
//
//	say -fo <work_dir>/<xid>.wav -pre <preamble> -a <text>
//
// where the preamble selects the caller's [tts.VoiceProfile] through [:dv]
// commands. The WAV file the engine writes is read back and removed before
// Synthesize returns, whether the engine succeeded or not.
//
// Typical usage:
//
//	p, err := dectalk.New("dectalk/say",
//	    dectalk.WithWorkDir("dectalk"),
//	    dectalk.WithTimeout(20*time.Second),
//	    dectalk.WithMaxConcurrent(4),
//	)
//	wav, err := p.Synthesize(ctx, "hello", tts.Paul)
package dectalk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 4

	// maxDiagnosticBytes caps how much engine stderr is kept in errors.
	maxDiagnosticBytes = 2048
)

// Option is a functional option for configuring a DECtalk Provider.
type Option func(*Provider)

// WithWorkDir sets the directory the engine writes its WAV files to.
// Defaults to the directory containing the binary.
func WithWorkDir(dir string) Option {
	return func(p *Provider) {
		if dir != "" {
			p.workDir = dir
		}
	}
}

// WithTimeout bounds a single engine run. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxConcurrent limits how many engine processes may run at once across
// all guilds. Defaults to 4.
func WithMaxConcurrent(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxConcurrent = int64(n)
		}
	}
}

// Provider implements tts.Provider by invoking the DECtalk binary.
// It is safe for concurrent use.
type Provider struct {
	binary        string
	workDir       string
	timeout       time.Duration
	maxConcurrent int64
	sem           *semaphore.Weighted
}

// New creates a Provider that runs the binary at path. The work directory is
// created if it does not exist.
func New(binary string, opts ...Option) (*Provider, error) {
	if binary == "" {
		return nil, errors.New("dectalk: binary path must not be empty")
	}
	p := &Provider{
		binary:        binary,
		workDir:       filepath.Dir(binary),
		timeout:       defaultTimeout,
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, o := range opts {
		o(p)
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("dectalk: create work dir %q: %w", p.workDir, err)
	}
	p.sem = semaphore.NewWeighted(p.maxConcurrent)
	return p, nil
}

// Binary returns the configured engine path.
func (p *Provider) Binary() string { return p.binary }

// Check reports whether the engine binary exists and is executable.
func (p *Provider) Check(context.Context) error {
	info, err := os.Stat(p.binary)
	if err != nil {
		return fmt.Errorf("dectalk: stat binary: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("dectalk: %q is not executable", p.binary)
	}
	return nil
}

// Synthesize renders text with voice into WAV bytes.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if err := voice.Validate(); err != nil {
		return nil, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, &tts.SynthesisError{Err: err, Timeout: errors.Is(err, context.DeadlineExceeded)}
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out := filepath.Join(p.workDir, xid.New().String()+".wav")
	defer removeArtifact(out)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, buildArgs(out, text, voice)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return nil, &tts.SynthesisError{
			Diagnostic: diagnostic(stderr.Bytes()),
			Timeout:    errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:        err,
		}
	}

	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, &tts.SynthesisError{
			Diagnostic: diagnostic(stderr.Bytes()),
			Err:        fmt.Errorf("read output: %w", err),
		}
	}
	if len(wav) == 0 {
		return nil, &tts.SynthesisError{Err: errors.New("engine produced an empty file")}
	}
	return wav, nil
}

// buildArgs returns the engine argument list. The text is always the final
// argument.
func buildArgs(out, text string, voice tts.VoiceProfile) []string {
	return []string{"-fo", out, "-pre", voice.Preamble(), "-a", text}
}

// removeArtifact deletes the engine output file if it exists.
func removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dectalk: failed to remove temp file", "path", path, "err", err)
	}
}

// diagnostic trims engine stderr to a loggable size.
func diagnostic(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxDiagnosticBytes {
		s = s[:maxDiagnosticBytes]
	}
	return s
}
