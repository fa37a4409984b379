package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/tideflow-io/tideflow/internal/events"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// notifiedEvents are the event types worth pushing to connected sessions:
// the instance needs attention or has finished.
var notifiedEvents = []string{
	schema.EventApprovalRequired,
	schema.EventInputRequired,
	schema.EventInstanceCompleted,
	schema.EventInstanceFailed,
	schema.EventInstanceCancelled,
}

// Notifier forwards selected engine events to connected MCP sessions as
// server-push notifications. Best-effort: delivery failures are logged,
// never retried.
type Notifier struct {
	bus      events.Bus
	server   *server.MCPServer
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. Call Run to start forwarding.
func NewNotifier(bus events.Bus, srv *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *Notifier {
	return &Notifier{bus: bus, server: srv, sessions: sessions, logger: logger}
}

// Run subscribes to the bus and forwards events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	ch, cancel, err := n.bus.Subscribe(ctx, events.Filter{EventTypes: notifiedEvents})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n.push(ev)
		}
	}
}

func (n *Notifier) push(ev events.Event) {
	payload := map[string]any{
		"type":        ev.Type,
		"instance_id": ev.InstanceID,
		"sequence":    ev.Sequence,
	}
	if ev.NodeID != "" {
		payload["node_id"] = ev.NodeID
	}
	if ev.Payload != nil {
		payload["payload"] = ev.Payload
	}

	for _, sid := range n.sessions.All() {
		err := n.server.SendNotificationToSpecificClient(sid, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sid)
			continue
		}
		if err != nil {
			n.logger.Warn("notification push failed",
				slog.String("session_id", sid),
				slog.String("error", err.Error()),
			)
		}
	}
}
