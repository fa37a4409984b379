package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextCarriesIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, InstanceID(ctx))
	assert.Empty(t, NodeID(ctx))

	ctx = WithInstanceID(ctx, "inst-1")
	ctx = WithNodeID(ctx, "fetch")
	assert.Equal(t, "inst-1", InstanceID(ctx))
	assert.Equal(t, "fetch", NodeID(ctx))
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithNodeID(WithInstanceID(context.Background(), "inst-1"), "fetch")
	logger.InfoContext(ctx, "node started")

	out := buf.String()
	assert.Contains(t, out, "instance_id=inst-1")
	assert.Contains(t, out, "node_id=fetch")
}

func TestCorrelationHandlerWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "engine ready")

	out := buf.String()
	assert.NotContains(t, out, "instance_id")
	assert.NotContains(t, out, "node_id")
}
