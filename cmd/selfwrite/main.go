// Package main provides the selfwrite binary entry point.
// Selfwrite tells a tree's generated writes apart from user edits: a
// generator registers what it is about to write, a watcher classifies every
// observed change against those registrations, and only genuine user edits
// are emitted downstream.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360studio/selfwrite/config"
	"github.com/c360studio/selfwrite/suppress"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "selfwrite"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "selfwrite",
		Short: "Change attribution for generated file trees",
		Long: `Selfwrite suppresses a generator's own writes from file watching.

A generator that writes into a watched tree registers each write before it
lands; the watcher classifies every observed change against those
registrations and emits only genuine user edits.

It provides:
- A watch mode that streams user edits as JSON lines or NATS messages
- A probe mode that soak-tests attribution against the live filesystem
- A hash mode for inspecting content fingerprints`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(watchCmd(&configPath, &logLevel))
	cmd.AddCommand(probeCmd(&configPath, &logLevel))
	cmd.AddCommand(hashCmd())

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// loadConfig loads configuration either from an explicit file or through the
// layered loader (defaults, user config, project config).
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	return config.NewLoader(slog.Default()).Load()
}

// setupLogger configures the process logger. The --log-level flag overrides
// the configured level.
func setupLogger(cfg *config.Config, logLevel string) *slog.Logger {
	level := cfg.Log.GetLevel()
	if logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			level = cfg.Log.GetLevel()
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newTracker builds the suppression tracker. With debug_logging set the
// tracker traces every attribution decision regardless of the global level.
func newTracker(cfg *config.Config, logger *slog.Logger) *suppress.Tracker {
	trackerLogger := logger
	if cfg.Suppress.DebugLogging {
		trackerLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return suppress.New(cfg.TrackerConfig(trackerLogger))
}

// resolveRoot picks the watch root from the flag or config and verifies it.
func resolveRoot(flagRoot string, cfg *config.Config) (string, error) {
	root := flagRoot
	if root == "" {
		root = cfg.Watch.Root
	}
	if root == "" {
		root = "."
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absRoot)
	}

	return absRoot, nil
}
