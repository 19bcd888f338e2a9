// Package dispatch publishes user edit events to NATS for downstream
// consumers. Publishing is best effort: a failed publish is logged and
// counted, never fed back into watching.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/selfwrite/watch"
)

// EditEvent is the wire form of one user edit.
type EditEvent struct {
	// ID is a unique event ID for correlation.
	ID string `json:"id"`

	// Path is the file path relative to the watch root.
	Path string `json:"path"`

	// AbsPath is the absolute file path.
	AbsPath string `json:"abs_path"`

	// Op is the type of change (create, modify, delete).
	Op string `json:"op"`

	// ObservedAt is when the edit was classified.
	ObservedAt time.Time `json:"observed_at"`
}

// Publisher publishes edit events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger

	closed bool
	mu     sync.Mutex

	// Metrics
	published     atomic.Int64
	publishErrors atomic.Int64
}

// NewPublisher connects to NATS and returns a publisher for subject.
func NewPublisher(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("selfwrite-dispatch"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS",
		"url", nc.ConnectedUrl(),
		"subject", subject)

	return &Publisher{
		nc:      nc,
		subject: subject,
		logger:  logger,
	}, nil
}

// Publish publishes one watch event.
// NATS publish is synchronous and doesn't support context cancellation
// directly, so the context is checked before publishing.
func (p *Publisher) Publish(ctx context.Context, event watch.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	wire := EditEvent{
		ID:         uuid.NewString(),
		Path:       event.Path,
		AbsPath:    event.AbsPath,
		Op:         string(event.Op),
		ObservedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		p.publishErrors.Add(1)
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}

	p.published.Add(1)
	p.logger.Debug("Published edit event",
		"id", wire.ID,
		"path", wire.Path,
		"op", wire.Op)
	return nil
}

// Run drains events, publishing each one, until the channel closes or the
// context is cancelled. Publish failures are logged and skipped.
func (p *Publisher) Run(ctx context.Context, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, event); err != nil {
				p.logger.Warn("Failed to publish edit event",
					"path", event.Path,
					"error", err)
			}
		}
	}
}

// Published returns the number of events published so far.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Close flushes and closes the NATS connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", "error", err)
	}
	p.nc.Close()

	p.logger.Info("Dispatch publisher closed",
		"published", p.published.Load(),
		"publish_errors", p.publishErrors.Load())
}
