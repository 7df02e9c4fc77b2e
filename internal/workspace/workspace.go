// Package workspace allocates isolated scratch directories for pipeline runs
// and guarantees their removal.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// DefaultBaseName is the file name (without extension) of the materialized source.
	DefaultBaseName = "source"
	// DefaultSourceExt is the extension given to the materialized source.
	DefaultSourceExt = ".arabic"

	dirPrefix   = "stagerun-"
	maxAttempts = 3
)

// ArtifactSuffixes are the suffixes the translator and the native toolchain
// may leave beside the source base name.
var ArtifactSuffixes = []string{".asm", ".c", "_intermediate.txt"}

// Options configure a Manager.
type Options struct {
	Root      string
	BaseName  string
	SourceExt string
	Logger    *slog.Logger
}

// Manager hands out workspaces under a common root.
type Manager struct {
	opts Options
}

// NewManager creates a Manager. An empty Root selects os.TempDir().
func NewManager(opts Options) *Manager {
	if opts.Root == "" {
		opts.Root = os.TempDir()
	}
	if opts.BaseName == "" {
		opts.BaseName = DefaultBaseName
	}
	if opts.SourceExt == "" {
		opts.SourceExt = DefaultSourceExt
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{opts: opts}
}

// Workspace is the set of files owned by one pipeline run.
type Workspace struct {
	dir      string
	base     string
	source   string
	tracked  []string
	released bool
}

// Acquire creates a fresh directory and writes source into it.
func (m *Manager) Acquire(source []byte) (*Workspace, error) {
	if err := os.MkdirAll(m.opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %q: %w", m.opts.Root, err)
	}

	var dir string
	for attempt := 0; ; attempt++ {
		dir = filepath.Join(m.opts.Root, dirPrefix+uuid.NewString())
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || attempt+1 >= maxAttempts {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	ws := &Workspace{
		dir:    dir,
		base:   filepath.Join(dir, m.opts.BaseName),
		source: filepath.Join(dir, m.opts.BaseName+m.opts.SourceExt),
	}
	if err := os.WriteFile(ws.source, source, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write workspace source: %w", err)
	}

	m.opts.Logger.Debug("workspace acquired", "dir", dir)
	return ws, nil
}

// Release deletes every file the workspace knows about and then the
// directory itself. Failures are logged and never returned.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil || ws.released {
		return
	}
	ws.released = true

	paths := append([]string{ws.source, ws.Binary()}, ws.tracked...)
	for _, suffix := range ArtifactSuffixes {
		paths = append(paths, ws.base+suffix)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.opts.Logger.Debug("workspace remove failed", "path", p, "error", err)
		}
	}

	// Anything left was produced by a stage without being tracked.
	if err := os.RemoveAll(ws.dir); err != nil {
		m.opts.Logger.Debug("workspace dir remove failed", "dir", ws.dir, "error", err)
		return
	}
	m.opts.Logger.Debug("workspace released", "dir", ws.dir)
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Source returns the path of the materialized source file.
func (w *Workspace) Source() string { return w.source }

// Base returns the source path without its extension; translator artifacts
// are named by appending a suffix to it.
func (w *Workspace) Base() string { return w.base }

// Artifact returns the path base+suffix.
func (w *Workspace) Artifact(suffix string) string { return w.base + suffix }

// Binary returns the path the native toolchain should write the executable to.
func (w *Workspace) Binary() string {
	if runtime.GOOS == "windows" {
		return w.base + ".exe"
	}
	return w.base
}

// Track records an additional path for deletion on release.
func (w *Workspace) Track(path string) {
	w.tracked = append(w.tracked, path)
}
