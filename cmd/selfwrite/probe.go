package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/selfwrite/watch"
	"github.com/c360studio/selfwrite/writer"
)

func probeCmd(configPath, logLevel *string) *cobra.Command {
	var (
		root   string
		writes int
		edits  int
		keep   bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Soak-test attribution against the live filesystem",
		Long: `Probe runs the full attribution loop against a real directory.

It performs a batch of generator writes through the suppression tracker,
then a batch of plain user edits, and verifies that none of the former and
all of the latter surface as user edit events. Use it to validate that the
configured settle and debounce timings hold up on this machine's
filesystem.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(*configPath, *logLevel, root, writes, edits, keep)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Directory to probe (default: a fresh temp directory)")
	cmd.Flags().IntVar(&writes, "writes", 20, "Number of generator writes to perform")
	cmd.Flags().IntVar(&edits, "edits", 5, "Number of user edits to simulate")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the temp directory after the probe")
	return cmd
}

func runProbe(configPath, logLevel, flagRoot string, writes, edits int, keep bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg, logLevel)

	root := flagRoot
	if root == "" {
		root, err = os.MkdirTemp("", "selfwrite-probe-")
		if err != nil {
			return fmt.Errorf("create probe directory: %w", err)
		}
		if !keep {
			defer os.RemoveAll(root)
		}
	} else {
		root, err = resolveRoot(flagRoot, cfg)
		if err != nil {
			return err
		}
	}

	tracker := newTracker(cfg, logger)
	defer tracker.Close()

	watcher, err := watch.New(cfg.WatcherConfig(), root, tracker, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	executor, err := writer.NewExecutor(root, tracker, logger)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	// Collect every emitted event until the watcher shuts down.
	var (
		seenMu sync.Mutex
		seen   []watch.Event
	)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for event := range watcher.Events() {
			seenMu.Lock()
			seen = append(seen, event)
			seenMu.Unlock()
		}
	}()

	// The drain window must outlast one debounce flush plus the settle
	// delay, or we would be measuring our own impatience.
	drain := cfg.Suppress.GetSettleDelay() + 2*cfg.Watch.GetDebounceDelay() + 300*time.Millisecond

	logger.Info("Probe starting",
		"root", root,
		"writes", writes,
		"edits", edits,
		"drain", drain)

	// Phase 1: generator writes. None of these may surface.
	for i := 0; i < writes; i++ {
		name := fmt.Sprintf("gen-%03d.md", i)
		content := fmt.Sprintf("# Generated %d\n\nprobe payload %s\n", i, uuid.NewString())
		if _, err := executor.Write(ctx, name, []byte(content)); err != nil {
			return fmt.Errorf("probe write %s: %w", name, err)
		}
	}
	if err := sleepCtx(ctx, drain); err != nil {
		return err
	}

	// Phase 2: user edits. All of these must surface.
	for j := 0; j < edits; j++ {
		name := filepath.Join(root, fmt.Sprintf("user-%03d.md", j))
		content := fmt.Sprintf("# User edit %d\n\n%s\n", j, uuid.NewString())
		if err := os.WriteFile(name, []byte(content), 0644); err != nil {
			return fmt.Errorf("probe edit %s: %w", name, err)
		}
	}
	if err := sleepCtx(ctx, drain); err != nil {
		return err
	}

	watcher.Stop()
	<-collected

	seenMu.Lock()
	events := seen
	seenMu.Unlock()

	var leaked, observed int
	for _, event := range events {
		switch {
		case strings.HasPrefix(event.Path, "gen-"):
			leaked++
			logger.Error("Generator write surfaced as user edit",
				"path", event.Path,
				"op", event.Op)
		case strings.HasPrefix(event.Path, "user-"):
			observed++
		}
	}

	stats := tracker.Stats()
	fmt.Printf("Probe results (%s):\n", root)
	fmt.Printf("  generator writes:  %d performed, %d leaked\n", writes, leaked)
	fmt.Printf("  user edits:        %d performed, %d observed\n", edits, observed)
	fmt.Printf("  classifications:   %d (%d suppressed, %d matched, %d user)\n",
		stats.Classifications, stats.SuppressedHits, stats.ExpectedMatches, stats.UserEdits)
	fmt.Printf("  dropped events:    %d\n", watcher.DroppedEvents())

	if leaked > 0 || observed < edits {
		return fmt.Errorf("attribution probe failed: %d generator leaks, %d/%d user edits observed", leaked, observed, edits)
	}

	fmt.Println("PASS")
	return nil
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
