package suppress

// Stats is a point-in-time snapshot of tracker activity.
type Stats struct {
	Begins          int64 `json:"begins"`
	Ends            int64 `json:"ends"`
	ReArms          int64 `json:"re_arms"`
	AutoReleases    int64 `json:"auto_releases"`
	Classifications int64 `json:"classifications"`
	SuppressedHits  int64 `json:"suppressed_hits"`
	ExpectedMatches int64 `json:"expected_matches"`
	UserEdits       int64 `json:"user_edits"`
	DigestFailures  int64 `json:"digest_failures"`
	OpenWindows     int   `json:"open_windows"`
	Registered      int   `json:"registered"`
}

// Stats returns current counters plus the live table sizes.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	open := len(t.suppressed)
	registered := len(t.expected)
	t.mu.Unlock()

	return Stats{
		Begins:          t.begins.Load(),
		Ends:            t.ends.Load(),
		ReArms:          t.reArms.Load(),
		AutoReleases:    t.autoReleases.Load(),
		Classifications: t.classifications.Load(),
		SuppressedHits:  t.suppressedHits.Load(),
		ExpectedMatches: t.expectedMatches.Load(),
		UserEdits:       t.userEdits.Load(),
		DigestFailures:  t.digestFailures.Load(),
		OpenWindows:     open,
		Registered:      registered,
	}
}
