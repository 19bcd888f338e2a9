// Package writer performs attributed file writes. Every write is bracketed
// with a suppression window on the shared tracker, so a watcher on the same
// tree can tell the write's echo apart from a user edit.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360studio/selfwrite/suppress"
)

// Executor writes files under a single root directory. Paths outside the
// root are rejected.
type Executor struct {
	root    string
	tracker *suppress.Tracker
	logger  *slog.Logger

	// Metrics
	writes       atomic.Int64
	writeErrors  atomic.Int64
	removes      atomic.Int64
	removeErrors atomic.Int64
}

// File is one entry in a batch write.
type File struct {
	Path    string
	Content []byte
}

// Stats is a snapshot of executor activity.
type Stats struct {
	Writes       int64 `json:"writes"`
	WriteErrors  int64 `json:"write_errors"`
	Removes      int64 `json:"removes"`
	RemoveErrors int64 `json:"remove_errors"`
}

// NewExecutor creates an executor rooted at root. The tracker must be the
// same instance the tree's watcher classifies against.
func NewExecutor(root string, tracker *suppress.Tracker, logger *slog.Logger) (*Executor, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		root:    filepath.Clean(absRoot),
		tracker: tracker,
		logger:  logger,
	}, nil
}

// Root returns the absolute root directory writes are confined to.
func (e *Executor) Root() string {
	return e.root
}

// Write writes content to path, creating parent directories as needed. The
// path may be absolute or relative to the root. It returns the canonical
// absolute path that was registered with the tracker.
//
// The suppression window is opened before the first byte lands and released
// (after the settle delay) once the write finishes, whether or not it
// succeeded. A failed write leaves the registered fingerprint pointing at
// the intended content, so whatever partial state actually landed on disk
// classifies as a user edit and is not silently dropped.
func (e *Executor) Write(ctx context.Context, path string, content []byte) (string, error) {
	if content == nil {
		return "", suppress.ErrNilContent
	}
	fullPath, err := e.resolvePath(path)
	if err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	opID := uuid.NewString()[:8]

	if err := e.tracker.Begin(fullPath, content); err != nil {
		e.writeErrors.Add(1)
		return "", fmt.Errorf("register write: %w", err)
	}
	defer func() {
		if err := e.tracker.End(fullPath); err != nil {
			e.logger.Warn("Failed to schedule suppression release",
				"path", fullPath,
				"op_id", opID,
				"error", err)
		}
	}()

	// Create parent directories if needed
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		e.writeErrors.Add(1)
		return "", fmt.Errorf("create directory: %w", err)
	}

	select {
	case <-ctx.Done():
		e.writeErrors.Add(1)
		return "", ctx.Err()
	default:
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		e.writeErrors.Add(1)
		return "", fmt.Errorf("write file: %w", err)
	}

	e.writes.Add(1)
	e.logger.Debug("Wrote file",
		"path", fullPath,
		"bytes", len(content),
		"op_id", opID)
	return fullPath, nil
}

// WriteBatch writes files in order, stopping at the first failure. Each
// file gets its own suppression window; windows for finished files keep
// settling while later files are written.
func (e *Executor) WriteBatch(ctx context.Context, files []File) error {
	for _, f := range files {
		if _, err := e.Write(ctx, f.Path, f.Content); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// Remove deletes path. The removal is registered with empty content, so the
// watcher's delete notification (observed as no content) matches and is
// attributed to the generator. Removing a path that does not exist is a
// no-op.
func (e *Executor) Remove(ctx context.Context, path string) error {
	fullPath, err := e.resolvePath(path)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := e.tracker.Begin(fullPath, []byte{}); err != nil {
		e.removeErrors.Add(1)
		return fmt.Errorf("register removal: %w", err)
	}
	defer func() {
		if err := e.tracker.End(fullPath); err != nil {
			e.logger.Warn("Failed to schedule suppression release",
				"path", fullPath,
				"error", err)
		}
	}()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		e.removeErrors.Add(1)
		return fmt.Errorf("remove file: %w", err)
	}

	e.removes.Add(1)
	e.logger.Debug("Removed file", "path", fullPath)
	return nil
}

// Stats returns current counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Writes:       e.writes.Load(),
		WriteErrors:  e.writeErrors.Load(),
		Removes:      e.removes.Load(),
		RemoveErrors: e.removeErrors.Load(),
	}
}

// resolvePath validates and resolves a path, ensuring it's within the root.
func (e *Executor) resolvePath(path string) (string, error) {
	if path == "" {
		return "", suppress.ErrEmptyPath
	}

	var fullPath string
	if filepath.IsAbs(path) {
		fullPath = filepath.Clean(path)
	} else {
		fullPath = filepath.Clean(filepath.Join(e.root, path))
	}

	if fullPath != e.root && !strings.HasPrefix(fullPath, e.root+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: %s is outside %s", path, e.root)
	}
	return fullPath, nil
}
