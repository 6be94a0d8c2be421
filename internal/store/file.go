package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FilePersister stores each document as <dir>/<name>.yaml.
//
// Saves write a temporary file in the same directory, fsync it, rename it
// over the target and fsync the directory. Once the rename succeeded the
// new document is the one readers see, so a failing directory fsync is
// logged and the save still reports success.
type FilePersister struct {
	dir     string
	syncDir func(dir string) error
}

// Compile-time interface check.
var _ Persister = (*FilePersister)(nil)

// NewFilePersister returns a FilePersister rooted at dir, creating it if
// needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir %q: %w", dir, err)
	}
	return &FilePersister{dir: dir, syncDir: syncDir}, nil
}

// Path returns the file that holds document name.
func (f *FilePersister) Path(name string) string {
	return filepath.Join(f.dir, name+".yaml")
}

// Load implements [Persister].
func (f *FilePersister) Load(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(f.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return body, err
}

// Save implements [Persister].
func (f *FilePersister) Save(ctx context.Context, name string, body []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.Path(name)); err != nil {
		return err
	}
	committed = true

	if err := f.syncDir(f.dir); err != nil {
		slog.Warn("store: fsync data dir after rename", "dir", f.dir, "document", name, "err", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return fmt.Errorf("store: invalid document name %q", name)
	}
	return nil
}
