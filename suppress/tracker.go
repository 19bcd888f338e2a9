// Package suppress attributes observed file changes to their author. A
// generator that writes into a watched tree brackets each write with Begin
// and End; the watcher asks Classify whether a change it observed came from
// an external editor. Between Begin and End the path is suppressed and every
// change on it is attributed to the generator. After release, attribution
// falls back to comparing the observed content's fingerprint against the one
// registered at Begin, so a user edit that lands after the window closes is
// still told apart from the echo of the generator's own write.
package suppress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/selfwrite/fingerprint"
)

// Default timings for suppression release.
const (
	// DefaultSettleDelay is how long End keeps a path suppressed so that
	// trailing watcher notifications for the write drain out first.
	DefaultSettleDelay = 100 * time.Millisecond

	// DefaultAutoReleaseTimeout bounds how long a path stays suppressed
	// when the generator crashes between Begin and End.
	DefaultAutoReleaseTimeout = 5 * time.Second
)

// Release reasons, used in release logs.
const (
	reasonSettle  = "settle"
	reasonTimeout = "timeout"
)

// Config controls a Tracker.
type Config struct {
	// SettleDelay is the grace period between End and the actual release
	// of the path. Zero means DefaultSettleDelay; a negative value
	// releases synchronously with no grace period.
	SettleDelay time.Duration

	// AutoReleaseTimeout is the upper bound on a suppression window.
	// Zero or negative means DefaultAutoReleaseTimeout.
	AutoReleaseTimeout time.Duration

	// Digest computes content fingerprints. Nil means fingerprint.Compute.
	Digest fingerprint.Func

	// Logger receives attribution traces and lifecycle warnings.
	// Nil means slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with production timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:        DefaultSettleDelay,
		AutoReleaseTimeout: DefaultAutoReleaseTimeout,
	}
}

// releaseToken is one scheduled release. Each Begin and End replaces the
// path's token, so a fired timer can tell whether it is still the live
// schedule for its path or has been superseded.
type releaseToken struct {
	timer  *time.Timer
	reason string
}

// Tracker is the suppression state for one watched tree. All methods are
// safe for concurrent use. Paths are opaque keys: Begin, End and Classify
// must be called with the same spelling for the same file.
type Tracker struct {
	settleDelay time.Duration
	autoRelease time.Duration
	digest      fingerprint.Func
	logger      *slog.Logger

	// mu guards the three tables below as one unit, so a Begin that
	// lands between a timer fire and its state update can never be
	// clobbered by the stale fire.
	mu         sync.Mutex
	expected   map[string]fingerprint.Fingerprint
	suppressed map[string]bool
	timers     map[string]*releaseToken

	// Stats counters.
	begins          atomic.Int64
	ends            atomic.Int64
	reArms          atomic.Int64
	autoReleases    atomic.Int64
	classifications atomic.Int64
	suppressedHits  atomic.Int64
	expectedMatches atomic.Int64
	userEdits       atomic.Int64
	digestFailures  atomic.Int64
}

// New creates a Tracker. Zero-value config fields fall back to defaults.
func New(cfg Config) *Tracker {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.AutoReleaseTimeout <= 0 {
		cfg.AutoReleaseTimeout = DefaultAutoReleaseTimeout
	}
	if cfg.Digest == nil {
		cfg.Digest = fingerprint.Compute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Tracker{
		settleDelay: cfg.SettleDelay,
		autoRelease: cfg.AutoReleaseTimeout,
		digest:      cfg.Digest,
		logger:      cfg.Logger,
		expected:    make(map[string]fingerprint.Fingerprint),
		suppressed:  make(map[string]bool),
		timers:      make(map[string]*releaseToken),
	}
}

// Begin registers an intended write. It records the fingerprint of content
// as the expected post-write state of path, marks the path suppressed, and
// arms the auto-release timeout. Calling Begin again for the same path
// replaces the previous registration wholesale; the newest write wins.
//
// If the fingerprint cannot be computed no state changes: the path is left
// unsuppressed so the resulting change surfaces as a user edit rather than
// being swallowed.
func (t *Tracker) Begin(path string, content []byte) error {
	if path == "" {
		return ErrEmptyPath
	}
	if content == nil {
		return ErrNilContent
	}

	fp, err := t.digest(content)
	if err != nil {
		t.digestFailures.Add(1)
		t.logger.Error("Fingerprint failed, write will not be suppressed",
			"path", path,
			"error", err)
		return fmt.Errorf("fingerprint content for %s: %w", path, err)
	}

	t.mu.Lock()
	reArmed := t.suppressed[path]
	t.expected[path] = fp
	t.suppressed[path] = true
	t.armLocked(path, t.autoRelease, reasonTimeout)
	t.mu.Unlock()

	t.begins.Add(1)
	if reArmed {
		t.reArms.Add(1)
	}

	t.logger.Debug("Suppression armed",
		"path", path,
		"fingerprint", fp.Short(),
		"re_armed", reArmed)
	return nil
}

// End signals that the write for path has completed. The path stays
// suppressed for the settle delay so trailing watcher notifications drain
// out, then is released. End returns immediately; the wait runs on a timer
// and never blocks other paths. The expected fingerprint survives release
// and keeps classifying echoes of the write as generator changes.
//
// End on a path that is not suppressed is an anomaly (double End, or End
// after the auto-release fired). It is logged and absorbed.
func (t *Tracker) End(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	t.ends.Add(1)

	t.mu.Lock()
	if !t.suppressed[path] {
		t.cancelLocked(path)
		t.mu.Unlock()
		t.logger.Warn("End called for path that is not suppressed",
			"path", path)
		return nil
	}
	if t.settleDelay < 0 {
		was := t.releaseLocked(path)
		t.mu.Unlock()
		t.logRelease(path, reasonSettle, was)
		return nil
	}
	t.armLocked(path, t.settleDelay, reasonSettle)
	t.mu.Unlock()

	t.logger.Debug("Suppression settling",
		"path", path,
		"settle_delay", t.settleDelay)
	return nil
}

// armLocked replaces the path's release schedule. Any previously armed
// timer is cancelled; if it already fired and is waiting on mu, the token
// swap makes the stale fire a no-op. Caller holds mu.
func (t *Tracker) armLocked(path string, d time.Duration, reason string) {
	if prev := t.timers[path]; prev != nil {
		prev.timer.Stop()
	}
	tok := &releaseToken{reason: reason}
	tok.timer = time.AfterFunc(d, func() {
		t.releaseFromTimer(path, tok)
	})
	t.timers[path] = tok
}

// cancelLocked stops and forgets any pending release for path. Caller
// holds mu.
func (t *Tracker) cancelLocked(path string) {
	if tok := t.timers[path]; tok != nil {
		tok.timer.Stop()
		delete(t.timers, path)
	}
}

// releaseLocked removes path from the suppression set and drops its timer
// entry. The expected fingerprint is deliberately left in place. Returns
// whether the path was suppressed. Caller holds mu.
func (t *Tracker) releaseLocked(path string) bool {
	t.cancelLocked(path)
	was := t.suppressed[path]
	delete(t.suppressed, path)
	return was
}

// releaseFromTimer is the AfterFunc callback for a scheduled release. It
// only acts if its token is still the live schedule for the path; a Begin
// or End that re-armed the path in the meantime wins.
func (t *Tracker) releaseFromTimer(path string, tok *releaseToken) {
	t.mu.Lock()
	if t.timers[path] != tok {
		t.mu.Unlock()
		return
	}
	delete(t.timers, path)
	was := t.suppressed[path]
	delete(t.suppressed, path)
	t.mu.Unlock()

	t.logRelease(path, tok.reason, was)
}

func (t *Tracker) logRelease(path, reason string, wasSuppressed bool) {
	switch {
	case reason == reasonTimeout:
		t.autoReleases.Add(1)
		t.logger.Warn("Suppression auto-released, End was never called",
			"path", path,
			"timeout", t.autoRelease)
	case !wasSuppressed:
		t.logger.Warn("Release fired for path that was not suppressed",
			"path", path)
	default:
		t.logger.Debug("Suppression released", "path", path)
	}
}

// Suppressed reports whether path is currently inside a suppression window.
func (t *Tracker) Suppressed(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed[path]
}

// Expected returns the fingerprint registered for path by the most recent
// Begin, if any. Registrations survive release; only Close clears them.
func (t *Tracker) Expected(path string) (fingerprint.Fingerprint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fp, ok := t.expected[path]
	return fp, ok
}

// Close cancels all pending releases and clears the suppression state. The
// Tracker stays usable afterwards; Close exists so a shutting-down host can
// stop timers from firing into a torn-down logger.
func (t *Tracker) Close() {
	t.mu.Lock()
	for path, tok := range t.timers {
		tok.timer.Stop()
		delete(t.timers, path)
	}
	open := len(t.suppressed)
	t.suppressed = make(map[string]bool)
	t.expected = make(map[string]fingerprint.Fingerprint)
	t.mu.Unlock()

	t.logger.Info("Suppression tracker closed",
		"open_windows", open,
		"begins", t.begins.Load(),
		"ends", t.ends.Load(),
		"auto_releases", t.autoReleases.Load(),
		"classifications", t.classifications.Load())
}
