package transport

import (
	"context"

	"github.com/1ureka/nearby/internal/protocol"
)

// link carries encoded payload frames to connected endpoints.
//
// open, close and signal are called from the receive loop in hub order.
type link interface {
	open(endpointID string, offerer bool)
	send(ctx context.Context, endpointID string, frame []byte) error
	signal(msg protocol.Message)
	close(endpointID string)
	closeAll() error
}

// relayLink sends frames through the hub, which forwards them to the peer.
type relayLink struct {
	t *Transport
}

func (relayLink) open(string, bool)       {}
func (relayLink) signal(protocol.Message) {}
func (relayLink) close(string)            {}
func (relayLink) closeAll() error         { return nil }

func (l relayLink) send(ctx context.Context, endpointID string, frame []byte) error {
	return l.t.call(ctx, protocol.Message{Type: protocol.MsgPayload, To: endpointID, Frame: frame})
}
