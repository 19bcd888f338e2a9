package suppress

// Classify reports whether an observed change to path was made by a user.
// false means the change is attributed to the generator and should be
// dropped by the caller.
//
// The decision runs in a fixed order: a path inside a suppression window is
// the generator's regardless of content; then the observed content's
// fingerprint is compared against the expectation registered at Begin. A
// path with no registration ever is always a user edit. Any internal fault,
// which today can only be a digest failure, fails open: the change counts
// as a user edit, because a missed user edit loses data while a false
// positive merely costs one redundant downstream run.
func (t *Tracker) Classify(path string, content []byte) bool {
	t.classifications.Add(1)

	t.mu.Lock()
	if t.suppressed[path] {
		t.mu.Unlock()
		t.suppressedHits.Add(1)
		t.logger.Debug("Change attributed to generator, suppression window open",
			"path", path)
		return false
	}
	expected, registered := t.expected[path]
	t.mu.Unlock()

	if !registered {
		t.userEdits.Add(1)
		t.logger.Debug("Change attributed to user, path never registered",
			"path", path)
		return true
	}

	fp, err := t.digest(content)
	if err != nil {
		t.digestFailures.Add(1)
		t.userEdits.Add(1)
		t.logger.Error("Fingerprint failed, treating change as user edit",
			"path", path,
			"error", err)
		return true
	}

	if fp == expected {
		t.expectedMatches.Add(1)
		t.logger.Debug("Change attributed to generator, content matches expectation",
			"path", path,
			"fingerprint", fp.Short())
		return false
	}

	t.userEdits.Add(1)
	t.logger.Debug("Change attributed to user, content differs from expectation",
		"path", path,
		"expected", expected.Short(),
		"observed", fp.Short())
	return true
}
