package suppress

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/selfwrite/fingerprint"
)

func TestClassify_SuppressedWindowWinsRegardlessOfContent(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("expected")); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	cases := []struct {
		name    string
		content []byte
	}{
		{"matching content", []byte("expected")},
		{"different content", []byte("something else entirely")},
		{"empty content", []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tr.Classify("/a.txt", tc.content) {
				t.Error("Classify = true inside suppression window, want false")
			}
		})
	}
}

func TestClassify_UnregisteredPathIsUserEdit(t *testing.T) {
	tr := newTestTracker(t)

	if !tr.Classify("/never-seen.txt", []byte("anything")) {
		t.Error("Classify on unregistered path = false, want true")
	}
}

func TestClassify_AfterRelease(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("path never released")
	}

	// A late echo of the generator's own write still matches the
	// registration; real edits do not.
	if tr.Classify("/a.txt", []byte("hello")) {
		t.Error("echo of generated content classified as user edit")
	}
	if !tr.Classify("/a.txt", []byte("hello, edited")) {
		t.Error("modified content classified as generator write")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("stable")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("path never released")
	}

	for i := 0; i < 10; i++ {
		if tr.Classify("/a.txt", []byte("stable")) {
			t.Fatalf("iteration %d: matching content flipped to user edit", i)
		}
		if !tr.Classify("/a.txt", []byte("drift")) {
			t.Fatalf("iteration %d: differing content flipped to generator", i)
		}
	}
}

func TestClassify_NilContentMatchesEmptyRegistration(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/empty.txt", []byte{}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/empty.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/empty.txt") }) {
		t.Fatal("path never released")
	}

	// Watchers report a truncated file as nil content; that is the same
	// observation as an empty file.
	if tr.Classify("/empty.txt", nil) {
		t.Error("nil observation did not match empty registration")
	}
}

func TestClassify_DigestFailureFailsOpen(t *testing.T) {
	digestErr := errors.New("digest exploded")
	flaky := func(content []byte) (fingerprint.Fingerprint, error) {
		if bytes.HasPrefix(content, []byte("boom")) {
			return "", digestErr
		}
		return fingerprint.Compute(content)
	}
	tr := New(Config{
		SettleDelay:        10 * time.Millisecond,
		AutoReleaseTimeout: time.Second,
		Digest:             flaky,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer tr.Close()

	// Begin surfaces the failure and registers nothing, so the coming
	// change is observed rather than swallowed.
	if err := tr.Begin("/a.txt", []byte("boom on begin")); !errors.Is(err, digestErr) {
		t.Fatalf("Begin with failing digest: got %v, want wrapped digest error", err)
	}
	if tr.Suppressed("/a.txt") {
		t.Error("failed Begin left the path suppressed")
	}
	if _, ok := tr.Expected("/a.txt"); ok {
		t.Error("failed Begin left a registration behind")
	}

	// A registered path whose observation cannot be fingerprinted is
	// reported as a user edit rather than silently dropped.
	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("path never released")
	}
	if !tr.Classify("/a.txt", []byte("boom on classify")) {
		t.Error("Classify with failing digest = false, want fail-open true")
	}
	if got := tr.Stats().DigestFailures; got != 2 {
		t.Errorf("DigestFailures = %d, want 2", got)
	}
}

// TestClassify_FullLifecycle walks one generated file and one untouched
// neighbor through a complete write cycle.
func TestClassify_FullLifecycle(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Begin("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tr.Classify("/a.txt", []byte("hello")) {
		t.Error("step 2: change during window classified as user edit")
	}
	if err := tr.End("/a.txt"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return !tr.Suppressed("/a.txt") }) {
		t.Fatal("step 3: path never released")
	}
	if tr.Classify("/a.txt", []byte("hello")) {
		t.Error("step 4: generated content after release classified as user edit")
	}
	if !tr.Classify("/a.txt", []byte("hello!")) {
		t.Error("step 5: edited content classified as generator write")
	}
	if !tr.Classify("/b.txt", []byte("x")) {
		t.Error("step 6: untouched neighbor classified as generator write")
	}
}
