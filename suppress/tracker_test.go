package suppress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/selfwrite/fingerprint"
)

// newTestTracker returns a tracker with timings short enough for tests but
// long enough to observe windows before they close.
func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := New(Config{
		SettleDelay:        20 * time.Millisecond,
		AutoReleaseTimeout: 150 * time.Millisecond,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(tr.Close)
	return tr
}

// waitUntil polls cond until it returns true or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestBegin_ValidatesInput(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("", []byte("x")); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("Begin with empty path: got %v, want ErrEmptyPath", err)
	}
	if err := tr.Begin("/a.txt", nil); !errors.Is(err, ErrNilContent) {
		t.Errorf("Begin with nil content: got %v, want ErrNilContent", err)
	}
	if err := tr.End(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("End with empty path: got %v, want ErrEmptyPath", err)
	}

	// Empty content is a valid write target.
	if err := tr.Begin("/a.txt", []byte{}); err != nil {
		t.Errorf("Begin with empty content: unexpected error %v", err)
	}
}

func TestBegin_MarksSuppressedAndRegisters(t *testing.T) {
	tr := newTestTracker(t)

	if tr.Suppressed("/a.txt") {
		t.Fatal("path suppressed before Begin")
	}
	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !tr.Suppressed("/a.txt") {
		t.Error("path not suppressed after Begin")
	}

	want, _ := fingerprint.Compute([]byte("hello"))
	got, ok := tr.Expected("/a.txt")
	if !ok {
		t.Fatal("no fingerprint registered after Begin")
	}
	if got != want {
		t.Errorf("registered fingerprint = %s, want %s", got, want)
	}
}

func TestEnd_ReleasesAfterSettleDelay(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}

	// End returns before the release happens.
	if !tr.Suppressed("/a.txt") {
		t.Error("path released immediately, expected settle delay first")
	}

	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("path still suppressed after settle delay")
	}

	// The registration survives release.
	if _, ok := tr.Expected("/a.txt"); !ok {
		t.Error("fingerprint cleared on release, expected it to persist")
	}
}

func TestEnd_NegativeSettleReleasesSynchronously(t *testing.T) {
	tr := New(Config{
		SettleDelay:        -1,
		AutoReleaseTimeout: time.Second,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer tr.Close()

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if tr.Suppressed("/a.txt") {
		t.Error("path still suppressed after synchronous End")
	}
}

func TestEnd_WithoutBeginIsAbsorbed(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.End("/never-begun.txt"); err != nil {
		t.Errorf("End without Begin: unexpected error %v", err)
	}
	if tr.Suppressed("/never-begun.txt") {
		t.Error("End marked an unknown path suppressed")
	}
}

func TestAutoRelease_FiresWhenEndNeverComes(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/orphan.txt", []byte("abandoned")); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/orphan.txt") }) {
		t.Fatal("auto-release never fired")
	}

	// The stale registration stays behind. An identical write echo is
	// still matched; only genuinely different content surfaces.
	if _, ok := tr.Expected("/orphan.txt"); !ok {
		t.Error("auto-release cleared the fingerprint, expected it to persist")
	}
	if got := tr.Stats().AutoReleases; got != 1 {
		t.Errorf("AutoReleases = %d, want 1", got)
	}
}

func TestBegin_ReArmsPendingRelease(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("v1")); err != nil {
		t.Fatalf("Begin v1: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End v1: %v", err)
	}

	// A second Begin lands while the settle release is pending. It must
	// win: the path stays suppressed past the original settle deadline
	// and the expectation now tracks the newer content.
	if err := tr.Begin("/a.txt", []byte("v2")); err != nil {
		t.Fatalf("Begin v2: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if !tr.Suppressed("/a.txt") {
		t.Fatal("stale settle release clobbered the re-armed window")
	}

	want, _ := fingerprint.Compute([]byte("v2"))
	if got, _ := tr.Expected("/a.txt"); got != want {
		t.Errorf("re-arm kept old fingerprint: got %s, want %s", got, want)
	}
	if got := tr.Stats().ReArms; got != 1 {
		t.Errorf("ReArms = %d, want 1", got)
	}

	// After release only v2 matches; the superseded v1 classifies as an
	// edit.
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End v2: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("path never released")
	}
	if !tr.Classify("/a.txt", []byte("v1")) {
		t.Error("superseded content still classified as generator write")
	}
	if tr.Classify("/a.txt", []byte("v2")) {
		t.Error("current expectation classified as user edit")
	}
}

func TestBegin_ReArmExtendsAutoRelease(t *testing.T) {
	tr := New(Config{
		SettleDelay:        10 * time.Millisecond,
		AutoReleaseTimeout: 80 * time.Millisecond,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer tr.Close()

	if err := tr.Begin("/a.txt", []byte("v1")); err != nil {
		t.Fatalf("Begin v1: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := tr.Begin("/a.txt", []byte("v2")); err != nil {
		t.Fatalf("Begin v2: %v", err)
	}

	// 50ms after the second Begin the first window's deadline has long
	// passed; only a stale fire would release the path now.
	time.Sleep(50 * time.Millisecond)
	if !tr.Suppressed("/a.txt") {
		t.Error("first window's timeout released the re-armed path")
	}
}

func TestPathIndependence(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}

	// /a.txt is waiting out its settle delay; /b.txt must be unaffected.
	if tr.Suppressed("/b.txt") {
		t.Error("suppression of /a.txt leaked to /b.txt")
	}
	if got := tr.Classify("/b.txt", []byte("x")); !got {
		t.Error("Classify(/b.txt) = false, want true while /a.txt settles")
	}
}

func TestClose_CancelsPendingReleases(t *testing.T) {
	tr := New(Config{
		SettleDelay:        20 * time.Millisecond,
		AutoReleaseTimeout: 50 * time.Millisecond,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/f%d.txt", i)
		if err := tr.Begin(path, []byte("content")); err != nil {
			t.Fatalf("Begin %s: %v", path, err)
		}
	}
	tr.Close()

	st := tr.Stats()
	if st.OpenWindows != 0 {
		t.Errorf("OpenWindows = %d after Close, want 0", st.OpenWindows)
	}
	if st.Registered != 0 {
		t.Errorf("Registered = %d after Close, want 0", st.Registered)
	}

	// Give cancelled timers a chance to misfire; none should count as an
	// auto-release.
	time.Sleep(100 * time.Millisecond)
	if got := tr.Stats().AutoReleases; got != 0 {
		t.Errorf("AutoReleases = %d after Close, want 0", got)
	}
}

func TestStats_CountsLifecycle(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tr.Classify("/a.txt", []byte("anything"))
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}

	st := tr.Stats()
	if st.Begins != 1 {
		t.Errorf("Begins = %d, want 1", st.Begins)
	}
	if st.Ends != 1 {
		t.Errorf("Ends = %d, want 1", st.Ends)
	}
	if st.Classifications != 1 {
		t.Errorf("Classifications = %d, want 1", st.Classifications)
	}
	if st.SuppressedHits != 1 {
		t.Errorf("SuppressedHits = %d, want 1", st.SuppressedHits)
	}
}

func TestConcurrentPaths(t *testing.T) {
	tr := New(Config{
		SettleDelay:        5 * time.Millisecond,
		AutoReleaseTimeout: time.Second,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer tr.Close()

	const paths = 16
	var wg sync.WaitGroup
	for i := 0; i < paths; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/file-%d.txt", i)
			content := []byte(fmt.Sprintf("content-%d", i))
			for j := 0; j < 20; j++ {
				if err := tr.Begin(path, content); err != nil {
					t.Errorf("Begin %s: %v", path, err)
					return
				}
				if tr.Classify(path, content) {
					t.Errorf("Classify %s inside window = true", path)
					return
				}
				if err := tr.End(path); err != nil {
					t.Errorf("End %s: %v", path, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := tr.Stats().Begins; got != paths*20 {
		t.Errorf("Begins = %d, want %d", got, paths*20)
	}
}
