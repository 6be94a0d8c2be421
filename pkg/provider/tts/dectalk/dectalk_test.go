package dectalk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// writeScript creates an executable shell script standing in for the engine.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "say")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// okScript copies its arguments into the -fo file so tests can inspect them.
const okScript = `out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -fo) out="$2"; shift 2 ;;
    *) printf '%s\n' "$1" >> "$out.args"; shift ;;
  esac
done
printf 'RIFFfake' > "$out"
cp "$out.args" "$(dirname "$out")/last.args"
rm -f "$out.args"
`

func workEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".wav") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	p, err := New(writeScript(t, okScript), WithWorkDir(work))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav, err := p.Synthesize(context.Background(), "hello world", tts.Paul)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(wav) != "RIFFfake" {
		t.Errorf("wav = %q, want RIFFfake", wav)
	}

	args, err := os.ReadFile(filepath.Join(work, "last.args"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	want := []string{"-pre", tts.Paul.Preamble(), "-a", "hello world"}
	if len(lines) != len(want) {
		t.Fatalf("args = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, lines[i], want[i])
		}
	}

	if left := workEntries(t, work); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestSynthesize_EngineFailure(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	script := writeScript(t, `for a; do case "$prev" in -fo) : > "$a" ;; esac; prev="$a"; done
echo "bad phoneme" >&2
exit 3
`)
	p, err := New(script, WithWorkDir(work))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Synthesize(context.Background(), "x", tts.Paul)
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
	var se *tts.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err is %T, want *tts.SynthesisError", err)
	}
	if se.Diagnostic != "bad phoneme" {
		t.Errorf("Diagnostic = %q, want %q", se.Diagnostic, "bad phoneme")
	}
	if se.Timeout {
		t.Error("Timeout = true, want false")
	}
	if left := workEntries(t, work); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestSynthesize_NoOutputFile(t *testing.T) {
	t.Parallel()

	p, err := New(writeScript(t, "exit 0\n"), WithWorkDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(context.Background(), "x", tts.Paul)
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	p, err := New(writeScript(t, "exec sleep 5\n"), WithWorkDir(work), WithTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	_, err = p.Synthesize(context.Background(), "x", tts.Paul)
	var se *tts.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *tts.SynthesisError", err)
	}
	if !se.Timeout {
		t.Error("Timeout = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Synthesize took %v, deadline not enforced", elapsed)
	}
}

func TestSynthesize_InvalidVoice(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	p, err := New(writeScript(t, okScript), WithWorkDir(work))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bad := tts.Paul
	bad.AveragePitch = 1000

	_, err = p.Synthesize(context.Background(), "x", bad)
	if !errors.Is(err, tts.ErrInvalidVoice) {
		t.Fatalf("err = %v, want ErrInvalidVoice", err)
	}
	if _, statErr := os.Stat(filepath.Join(work, "last.args")); statErr == nil {
		t.Error("engine ran for an invalid voice")
	}
}

func TestSynthesize_ConcurrentCallsUseDistinctFiles(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	p, err := New(writeScript(t, okScript), WithWorkDir(work), WithMaxConcurrent(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errs := make(chan error, 8)
	for range 8 {
		go func() {
			_, err := p.Synthesize(context.Background(), "x", tts.Paul)
			errs <- err
		}()
	}
	for range 8 {
		if err := <-errs; err != nil {
			t.Errorf("Synthesize: %v", err)
		}
	}
	if left := workEntries(t, work); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty binary")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	p, err := New(writeScript(t, okScript), WithWorkDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}

	missing, err := New(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := missing.Check(context.Background()); err == nil {
		t.Error("Check on missing binary should fail")
	}
}
