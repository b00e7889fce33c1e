// Package transport implements nearby.Transport on top of the rendezvous hub.
// Discovery and the connection handshake always go through the hub; payload
// frames travel over a per-connection link, either relayed by the hub or
// carried on a WebRTC DataChannel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/nearby/internal/nearby"
	"github.com/1ureka/nearby/internal/protocol"
	"github.com/1ureka/nearby/internal/util"
)

// LinkKind selects how payload frames reach a connected endpoint.
type LinkKind string

const (
	LinkRelay  LinkKind = "relay"
	LinkWebRTC LinkKind = "webrtc"
)

// ParseLinkKind validates a configured link name.
func ParseLinkKind(s string) (LinkKind, error) {
	switch k := LinkKind(s); k {
	case LinkRelay, LinkWebRTC:
		return k, nil
	default:
		return "", fmt.Errorf("unknown link %q (want relay or webrtc)", s)
	}
}

// DefaultTimeout bounds a hub command when the caller's context has no
// deadline of its own.
const DefaultTimeout = 10 * time.Second

// ErrClosed is returned by commands issued after the transport shut down.
var ErrClosed = errors.New("transport closed")

// Options configures Dial.
type Options struct {
	Link    LinkKind      // default LinkRelay
	STUN    []string      // default Google STUN servers, webrtc link only
	Timeout time.Duration // default DefaultTimeout
}

// Transport is a hub session. It is safe for concurrent use.
//
// Its lifecycle is governed by the WebSocket: when the hub goes away or
// Close is called, Done is closed and so is the Events channel, after every
// event already received has been delivered.
type Transport struct {
	conn *websocket.Conn
	opts Options
	id   string

	wmu sync.Mutex // serializes WebSocket writes

	nextRef atomic.Uint64
	mu      sync.Mutex
	waiters map[uint64]chan error

	// Only touched by the receive loop.
	incoming map[string]bool

	events *eventQueue
	link   link

	ready     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ nearby.Transport = (*Transport)(nil)

// Dial connects to the hub at url and waits for it to assign an endpoint ID.
func Dial(ctx context.Context, url string, opts Options) (*Transport, error) {
	if opts.Link == "" {
		opts.Link = LinkRelay
	}
	if _, err := ParseLinkKind(string(opts.Link)); err != nil {
		return nil, err
	}
	if len(opts.STUN) == 0 {
		opts.STUN = stunServers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach hub at %s: %w", url, err)
	}

	tCtx, tCancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:     conn,
		opts:     opts,
		waiters:  make(map[uint64]chan error),
		incoming: make(map[string]bool),
		events:   newEventQueue(),
		ready:    make(chan struct{}),
		ctx:      tCtx,
		cancel:   tCancel,
	}
	if opts.Link == LinkWebRTC {
		t.link = newRTCLink(t)
	} else {
		t.link = relayLink{t: t}
	}

	go t.events.run()
	go t.receiveLoop()

	select {
	case <-t.ready:
		util.LogDebug("[transport] joined hub as %s (link %s)", t.id, opts.Link)
		return t, nil
	case <-t.ctx.Done():
		return nil, fmt.Errorf("hub closed the connection before welcome: %w", ErrClosed)
	case <-ctx.Done():
		t.Close()
		return nil, ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ID returns the endpoint ID the hub assigned to this session.
func (t *Transport) ID() string { return t.id }

// Ready returns a channel that is closed once the hub has assigned an ID.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Done returns a channel that is closed when the session ends.
func (t *Transport) Done() <-chan struct{} { return t.ctx.Done() }

// Close leaves the hub and tears down every link.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = errors.Join(t.link.closeAll(), t.conn.Close())
		t.events.close()
	})
	return err
}

// Events implements nearby.Transport.
func (t *Transport) Events() <-chan nearby.Event { return t.events.out }

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (t *Transport) StartAdvertising(ctx context.Context, name, serviceID string, strategy nearby.Strategy) error {
	return t.call(ctx, protocol.Message{
		Type:     protocol.MsgAdvertise,
		Name:     name,
		Service:  serviceID,
		Strategy: string(strategy),
	})
}

func (t *Transport) StopAdvertising() {
	t.post(protocol.Message{Type: protocol.MsgStopAdvertise})
}

func (t *Transport) StartDiscovery(ctx context.Context, serviceID string, strategy nearby.Strategy) error {
	return t.call(ctx, protocol.Message{
		Type:     protocol.MsgDiscover,
		Service:  serviceID,
		Strategy: string(strategy),
	})
}

func (t *Transport) StopDiscovery() {
	t.post(protocol.Message{Type: protocol.MsgStopDiscover})
}

func (t *Transport) RequestConnection(ctx context.Context, name, endpointID string) error {
	return t.call(ctx, protocol.Message{Type: protocol.MsgRequest, To: endpointID, Name: name})
}

func (t *Transport) AcceptConnection(ctx context.Context, endpointID string) error {
	return t.call(ctx, protocol.Message{Type: protocol.MsgAccept, To: endpointID})
}

func (t *Transport) RejectConnection(ctx context.Context, endpointID string) error {
	return t.call(ctx, protocol.Message{Type: protocol.MsgReject, To: endpointID})
}

// SendPayload encodes p as a frame and hands it to the endpoint's link.
// A Success update is reported once the link has taken the frame.
func (t *Transport) SendPayload(ctx context.Context, endpointID string, p nearby.Payload) error {
	frame := &protocol.Frame{Kind: uint8(p.Kind), PayloadID: p.ID}
	total := int64(len(p.Bytes))
	if p.Kind == nearby.KindBytes {
		frame.Body = p.Bytes
	} else {
		frame.Body = protocol.SizeBody(p.Size)
		total = p.Size
	}

	if err := t.link.send(ctx, endpointID, protocol.Encode(frame)); err != nil {
		return err
	}

	t.events.push(nearby.PayloadTransferUpdate{
		EndpointID: endpointID,
		Update: nearby.TransferUpdate{
			PayloadID:        p.ID,
			Status:           nearby.TransferSuccess,
			BytesTransferred: total,
			TotalBytes:       total,
		},
	})
	return nil
}

func (t *Transport) DisconnectFromEndpoint(endpointID string) {
	t.link.close(endpointID)
	t.post(protocol.Message{Type: protocol.MsgDisconnect, To: endpointID})
}

func (t *Transport) StopAllEndpoints() {
	if err := t.link.closeAll(); err != nil {
		util.LogDebug("[transport] closing links: %v", err)
	}
	t.post(protocol.Message{Type: protocol.MsgStopAll})
}

// call sends a command and waits for the hub's ack, ctx, or shutdown.
func (t *Transport) call(ctx context.Context, msg protocol.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	ref := t.nextRef.Add(1)
	msg.Ref = ref
	ack := make(chan error, 1)

	t.mu.Lock()
	t.waiters[ref] = ack
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, ref)
		t.mu.Unlock()
	}()

	if err := t.write(msg); err != nil {
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", msg.Type, ctx.Err())
	case <-t.ctx.Done():
		return ErrClosed
	}
}

// post sends a command without waiting for an ack.
func (t *Transport) post(msg protocol.Message) {
	if err := t.write(msg); err != nil {
		util.LogDebug("[transport] %s not sent: %v", msg.Type, err)
	}
}

func (t *Transport) write(msg protocol.Message) error {
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Type, err)
	}
	return nil
}
