// Package watch observes a directory tree and emits events for user edits
// only. Every raw filesystem notification is debounced, re-read, and run
// through the suppression tracker; changes attributed to the generator are
// counted and discarded before they reach the output channel.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/selfwrite/fingerprint"
	"github.com/c360studio/selfwrite/suppress"
)

const (
	// eventChannelBuffer is the default size of the watch event channel.
	eventChannelBuffer = 500

	// defaultDebounceDelay is how long to wait for more changes before
	// processing.
	defaultDebounceDelay = 500 * time.Millisecond
)

// Config configures tree watching.
type Config struct {
	// DebounceDelay is how long to collect raw notifications before
	// processing them as one batch. Zero means defaultDebounceDelay.
	DebounceDelay time.Duration

	// FileExtensions lists file extensions to watch (e.g. [".md", ".txt"]).
	FileExtensions []string

	// IncludePatterns optionally narrows watching to directories matching
	// these glob patterns, relative to the root. Supports ** for
	// recursive matches. Empty means the whole root.
	IncludePatterns []string

	// ExcludeDirs lists directory names to skip (e.g. [".git", "node_modules"]).
	ExcludeDirs []string

	// BufferSize is the event channel capacity. Zero means eventChannelBuffer.
	BufferSize int

	// Registerer receives the watcher's metrics. Nil leaves the counters
	// unregistered but still functional.
	Registerer prometheus.Registerer
}

// DefaultConfig returns default watch configuration.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:  defaultDebounceDelay,
		FileExtensions: []string{".md", ".txt"},
		ExcludeDirs:    []string{".git", "node_modules", "vendor"},
		BufferSize:     eventChannelBuffer,
	}
}

// Operation indicates the type of file operation.
type Operation string

// OpCreate, OpModify, and OpDelete enumerate the watch operation types.
const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event is one user edit observed in the watched tree. Generator writes
// never surface as events.
type Event struct {
	// Path is the file path relative to the watch root.
	Path string

	// Op is the type of change.
	Op Operation

	// AbsPath is the absolute file path, as registered with the tracker.
	AbsPath string
}

// Watcher watches a tree and classifies every change before emitting it.
type Watcher struct {
	config  Config
	root    string
	tracker *suppress.Tracker
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	metrics *metrics

	extensions map[string]bool
	excludes   map[string]bool

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Duplicate-notification detection: last content seen per path
	lastSeenMu sync.RWMutex
	lastSeen   map[string]fingerprint.Fingerprint

	// Output channel
	events chan Event

	// Metrics
	droppedEvents atomic.Int64
}

// New creates a watcher over root. Events are classified against tracker,
// which must be the same instance the tree's generator brackets its writes
// with.
func New(config Config, root string, tracker *suppress.Tracker, logger *slog.Logger) (*Watcher, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	// Build extension set
	extensions := make(map[string]bool)
	exts := config.FileExtensions
	if len(exts) == 0 {
		exts = []string{".md", ".txt"}
	}
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[strings.ToLower(ext)] = true
	}

	// Build exclude set
	excludes := make(map[string]bool)
	dirs := config.ExcludeDirs
	if len(dirs) == 0 {
		dirs = []string{".git", "node_modules", "vendor"}
	}
	for _, dir := range dirs {
		excludes[dir] = true
	}

	if config.DebounceDelay <= 0 {
		config.DebounceDelay = defaultDebounceDelay
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = eventChannelBuffer
	}

	return &Watcher{
		config:     config,
		root:       absRoot,
		tracker:    tracker,
		watcher:    fsw,
		logger:     logger,
		metrics:    newMetrics(config.Registerer),
		extensions: extensions,
		excludes:   excludes,
		pending:    make(map[string]fsnotify.Op),
		lastSeen:   make(map[string]fingerprint.Fingerprint),
		events:     make(chan Event, bufferSize),
	}, nil
}

// Root returns the absolute watch root.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns the channel of user edit events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching the tree for changes.
func (w *Watcher) Start(ctx context.Context) error {
	// Create the root if it doesn't exist
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}

	roots := []string{w.root}
	if len(w.config.IncludePatterns) > 0 {
		resolved, err := ResolveDirs(w.root, w.config.IncludePatterns)
		if err != nil {
			return err
		}
		roots = resolved
	}

	for _, dir := range roots {
		if err := w.addWatchesRecursive(dir); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("Watcher started",
		"root", w.root,
		"watch_roots", len(roots),
		"debounce", w.config.DebounceDelay,
		"extensions", w.config.FileExtensions)

	return nil
}

// Stop stops the watcher.
// The events channel is closed by processEvents when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedEvents returns the number of events dropped due to channel overflow.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// setLastSeen records the content fingerprint ultimately observed for a path.
func (w *Watcher) setLastSeen(path string, fp fingerprint.Fingerprint) {
	w.lastSeenMu.Lock()
	defer w.lastSeenMu.Unlock()
	w.lastSeen[path] = fp
}

// getLastSeen returns the last observed fingerprint for a path.
func (w *Watcher) getLastSeen(path string) (fingerprint.Fingerprint, bool) {
	w.lastSeenMu.RLock()
	defer w.lastSeenMu.RUnlock()
	fp, ok := w.lastSeen[path]
	return fp, ok
}

func (w *Watcher) dropLastSeen(path string) {
	w.lastSeenMu.Lock()
	defer w.lastSeenMu.Unlock()
	delete(w.lastSeen, path)
}

// addWatchesRecursive adds watches to all directories under root.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			return nil
		}

		// Skip excluded and hidden directories
		base := filepath.Base(path)
		if w.excludes[base] || (strings.HasPrefix(base, ".") && base != "." && path != root) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}

		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent accumulates a single fsnotify event for the next flush.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	ext := strings.ToLower(filepath.Ext(path))
	if !w.extensions[ext] {
		// But handle directory creation (for new watches)
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.handleNewDirectory(path)
			}
		}
		return
	}

	// Skip files in excluded directories
	relPath, _ := filepath.Rel(w.root, path)
	for excludeDir := range w.excludes {
		if strings.Contains(relPath, excludeDir+string(filepath.Separator)) {
			return
		}
	}

	w.pendingMu.Lock()
	w.pending[path] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Change detected",
		"path", relPath,
		"op", event.Op.String())
}

// handleNewDirectory adds a watch to a newly created directory.
func (w *Watcher) handleNewDirectory(path string) {
	base := filepath.Base(path)
	if w.excludes[base] || strings.HasPrefix(base, ".") {
		return
	}

	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory",
			"path", path,
			"error", err)
	} else {
		w.logger.Debug("Added watch for new directory", "path", path)
	}
}

// flushPending classifies accumulated changes and emits the user edits.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}

	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relPath, _ := filepath.Rel(w.root, path)
		event := Event{Path: relPath, AbsPath: path}

		// Deletes and renames: the file is gone, so the observation is
		// "no content". A generator removal registered empty content and
		// is matched; anything else surfaces as a user delete.
		gone := op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
		if !gone {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				gone = true
			}
		}
		if gone {
			w.metrics.observed.WithLabelValues(string(OpDelete)).Inc()
			w.dropLastSeen(path)

			if !w.tracker.Classify(path, nil) {
				w.metrics.generatorWrites.Inc()
				w.logger.Debug("Discarded generator delete", "path", relPath)
				continue
			}

			event.Op = OpDelete
			w.metrics.userEdits.Inc()
			w.sendEvent(event)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("Failed to read changed file",
				"path", relPath,
				"error", err)
			continue
		}

		isUserEdit := w.tracker.Classify(path, content)

		fp, fpErr := fingerprint.Compute(content)
		lastFP, hadSeen := w.getLastSeen(path)
		if fpErr == nil {
			w.setLastSeen(path, fp)
		}

		if op.Has(fsnotify.Create) || !hadSeen {
			event.Op = OpCreate
		} else {
			event.Op = OpModify
		}
		w.metrics.observed.WithLabelValues(string(event.Op)).Inc()

		if !isUserEdit {
			w.metrics.generatorWrites.Inc()
			w.logger.Debug("Discarded generator write", "path", relPath)
			continue
		}

		// Duplicate notifications for content already emitted carry no
		// new information.
		if fpErr == nil && hadSeen && lastFP == fp {
			continue
		}

		w.metrics.userEdits.Inc()
		w.sendEvent(event)
	}
}

// sendEvent sends an event to the output channel without blocking.
func (w *Watcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Emitted user edit",
			"path", event.Path,
			"op", event.Op)
	default:
		dropped := w.droppedEvents.Add(1)
		w.metrics.dropped.Inc()
		w.logger.Warn("Event channel full, dropping event",
			"path", event.Path,
			"total_dropped", dropped)
	}
}
