package services

import (
	"context"

	"github.com/yungbote/classpulse-backend/internal/sse"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg sse.SSEMessage)
}

// HubEmitter delivers to clients connected to this instance.
type HubEmitter struct{ Hub *sse.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes to the cross-instance bus; a forwarder on each node
// re-broadcasts into its local hub.
type BusEmitter struct{ Bus SSEBus }

func (e *BusEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
