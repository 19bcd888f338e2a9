package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/selfwrite/watch"
)

func TestNewPublisher_RequiresSubject(t *testing.T) {
	_, err := NewPublisher("nats://localhost:4222", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject is required")
}

func TestNewPublisher_UnreachableServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Port 1 is never a NATS server; Connect fails instead of retrying
	// because RetryOnFailedConnect is not set.
	_, err := NewPublisher("nats://127.0.0.1:1", "selfwrite.edits", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to NATS")
}

func TestPublish_CancelledContext(t *testing.T) {
	// The context check runs before marshalling or any connection use, so
	// a bare publisher suffices.
	p := &Publisher{
		subject: "selfwrite.edits",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, watch.Event{Path: "note.md", Op: watch.OpModify})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Zero(t, p.Published())
}
