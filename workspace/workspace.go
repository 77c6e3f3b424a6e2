// Package workspace manages the run-scoped scratch directory tree.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Workspace is the arena owned by exactly one run. Every stage and the
// resolved plugin write beneath Root; Release reclaims the whole tree.
type Workspace struct {
	// RunID names this run; it is the base name of Root.
	RunID string
	// Root is the run directory, exclusively owned by this run.
	Root string

	logger *slog.Logger
	lock   *flock.Flock
	keep   bool
}

// Acquire creates a fresh run directory under baseDir and takes the
// per-channel lock so two runs of the same channel cannot interleave their
// uploads or history writes. Runs of different channels proceed concurrently.
func Acquire(logger *slog.Logger, baseDir, channel string, keep bool) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	lock := flock.New(filepath.Join(baseDir, channel+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire channel lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another run is already in progress for channel %q", channel)
	}

	runID := uuid.NewString()[:8]
	root := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	logger.Debug("workspace acquired", "run_id", runID, "root", root)
	return &Workspace{
		RunID:  runID,
		Root:   root,
		logger: logger,
		lock:   lock,
		keep:   keep,
	}, nil
}

// Dir returns a named subdirectory of the run, creating it on first use.
func (w *Workspace) Dir(name string) (string, error) {
	dir := filepath.Join(w.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", name, err)
	}
	return dir, nil
}

// PluginDir returns the workspace handed to the resolved plugin. Each plugin
// gets its own subtree so it can never clobber stage outputs.
func (w *Workspace) PluginDir(pluginName string) (string, error) {
	return w.Dir(filepath.Join("plugin", pluginName))
}

// Release reclaims the workspace. It runs on every exit path; when the
// workspace was acquired with keep=true the tree is left for inspection and
// only the lock is dropped.
func (w *Workspace) Release() {
	if w.lock != nil {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Warn("release channel lock", "error", err)
		}
		w.lock = nil
	}
	if w.keep {
		w.logger.Info("keeping workspace for inspection", "root", w.Root)
		return
	}
	if err := os.RemoveAll(w.Root); err != nil {
		w.logger.Warn("remove workspace", "root", w.Root, "error", err)
	}
}
