package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c360studio/selfwrite/config"
	"github.com/c360studio/selfwrite/dispatch"
	"github.com/c360studio/selfwrite/suppress"
	"github.com/c360studio/selfwrite/watch"
)

func watchCmd(configPath, logLevel *string) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a tree and stream user edits",
		Long: `Watch observes the configured tree and emits one record per user edit.

Records go to stdout as JSON lines, or to NATS when nats.url is configured.
Changes attributed to a registered generator write are counted and
discarded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(*configPath, *logLevel, root)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Directory to watch (overrides config)")
	return cmd
}

func runWatch(configPath, logLevel, flagRoot string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg, logLevel)

	root, err := resolveRoot(flagRoot, cfg)
	if err != nil {
		return err
	}

	tracker := newTracker(cfg, logger)
	defer tracker.Close()

	watchConfig := cfg.WatcherConfig()
	watchConfig.Registerer = prometheus.DefaultRegisterer
	watcher, err := watch.New(watchConfig, root, tracker, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	logger.Info("Selfwrite ready",
		"version", Version,
		"root", root)

	natsURL := resolveNATSURL(cfg)
	if natsURL != "" {
		publisher, err := dispatch.NewPublisher(natsURL, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()

		err = publisher.Run(ctx, watcher.Events())
		logWatchStats(logger, tracker, watcher)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	printEvents(ctx, watcher.Events())
	logWatchStats(logger, tracker, watcher)
	return nil
}

// resolveNATSURL picks the dispatch target. Environment variables take
// precedence over config; empty means publish to stdout instead.
func resolveNATSURL(cfg *config.Config) string {
	if envURL := os.Getenv("SELFWRITE_NATS_URL"); envURL != "" {
		return envURL
	}
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}
	return cfg.NATS.URL
}

// printEvents writes user edits to stdout as JSON lines until the context is
// cancelled or the event channel closes.
func printEvents(ctx context.Context, events <-chan watch.Event) {
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			record := dispatch.EditEvent{
				ID:         uuid.NewString(),
				Path:       event.Path,
				AbsPath:    event.AbsPath,
				Op:         string(event.Op),
				ObservedAt: time.Now().UTC(),
			}
			if err := enc.Encode(record); err != nil {
				slog.ErrorContext(ctx, "Failed to encode event", "path", event.Path, "error", err)
			}
		}
	}
}

func logWatchStats(logger *slog.Logger, tracker *suppress.Tracker, watcher *watch.Watcher) {
	stats := tracker.Stats()
	logger.Info("Watch session finished",
		"classifications", stats.Classifications,
		"user_edits", stats.UserEdits,
		"generator_writes", stats.SuppressedHits+stats.ExpectedMatches,
		"dropped_events", watcher.DroppedEvents())
}
