package transport

import (
	"errors"

	"github.com/1ureka/nearby/internal/nearby"
	"github.com/1ureka/nearby/internal/protocol"
	"github.com/1ureka/nearby/internal/util"
)

// receiveLoop reads hub messages until the WebSocket fails, then shuts the
// transport down.
func (t *Transport) receiveLoop() {
	defer t.Close()

	for {
		var msg protocol.Message
		if err := t.conn.ReadJSON(&msg); err != nil {
			select {
			case <-t.ctx.Done():
			default:
				util.LogWarning("[transport] lost the hub: %v", err)
			}
			return
		}
		t.handle(msg)
	}
}

// handle translates one hub message into events. It runs on the receive
// loop only, so hub order is preserved in the event queue.
func (t *Transport) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgWelcome:
		if t.id == "" {
			t.id = msg.To
			close(t.ready)
		}

	case protocol.MsgAck:
		t.mu.Lock()
		ack, ok := t.waiters[msg.Ref]
		t.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != "" {
			ack <- errors.New(msg.Error)
		} else {
			ack <- nil
		}

	case protocol.MsgFound:
		t.events.push(nearby.EndpointFound{
			EndpointID: msg.From,
			Info:       nearby.DiscoveredEndpointInfo{EndpointName: msg.Name, ServiceID: msg.Service},
		})

	case protocol.MsgLost:
		t.events.push(nearby.EndpointLost{EndpointID: msg.From})

	case protocol.MsgInitiated:
		t.incoming[msg.From] = msg.Incoming
		t.events.push(nearby.ConnectionInitiated{
			EndpointID: msg.From,
			Info: nearby.ConnectionInfo{
				EndpointName: msg.Name,
				AuthToken:    msg.Token,
				Incoming:     msg.Incoming,
			},
		})

	case protocol.MsgResult:
		status, err := nearby.ParseStatus(msg.Status)
		if err != nil {
			util.LogWarning("[transport] %v", err)
		}
		incoming := t.incoming[msg.From]
		delete(t.incoming, msg.From)

		// The link must exist before the manager sees the result, so
		// anything it sends right away has somewhere to go.
		if status == nearby.StatusOK {
			t.link.open(msg.From, !incoming)
		}
		t.events.push(nearby.ConnectionResult{EndpointID: msg.From, Status: status})

	case protocol.MsgDisconnected:
		delete(t.incoming, msg.From)
		t.link.close(msg.From)
		t.events.push(nearby.Disconnected{EndpointID: msg.From})

	case protocol.MsgPayload:
		t.deliver(msg.From, msg.Frame)

	case protocol.MsgOffer, protocol.MsgAnswer, protocol.MsgCandidate:
		t.link.signal(msg)

	default:
		util.LogDebug("[transport] ignoring %q from hub", msg.Type)
	}
}

// deliver decodes an inbound frame from endpointID and reports it.
// Links call it from their own goroutines.
func (t *Transport) deliver(endpointID string, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		util.LogWarning("[transport] dropping frame from %s: %v", endpointID, err)
		return
	}

	p := nearby.Payload{ID: frame.PayloadID, Kind: nearby.PayloadKind(frame.Kind)}
	update := nearby.TransferUpdate{PayloadID: frame.PayloadID}
	if p.Kind == nearby.KindBytes {
		p.Bytes = frame.Body
		update.Status = nearby.TransferSuccess
		update.BytesTransferred = int64(len(frame.Body))
		update.TotalBytes = int64(len(frame.Body))
	} else {
		// File and Stream bodies are not carried; only the size descriptor is.
		p.Size = protocol.BodySize(frame.Body)
		update.Status = nearby.TransferCanceled
		update.TotalBytes = p.Size
	}

	t.events.push(nearby.PayloadReceived{EndpointID: endpointID, Payload: p})
	t.events.push(nearby.PayloadTransferUpdate{EndpointID: endpointID, Update: update})
}
