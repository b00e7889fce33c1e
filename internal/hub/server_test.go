package hub_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/nearby/internal/hub"
	"github.com/1ureka/nearby/internal/protocol"
)

// wsPeer is a raw hub client driven message by message.
type wsPeer struct {
	t       *testing.T
	conn    *websocket.Conn
	id      string
	ref     uint64
	pending []protocol.Message
}

func startHub(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(hub.NewServer().Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *wsPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &wsPeer{t: t, conn: conn}
	welcome := p.read()
	require.Equal(t, protocol.MsgWelcome, welcome.Type)
	require.Len(t, welcome.To, 4)
	p.id = welcome.To
	return p
}

func (p *wsPeer) read() protocol.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg protocol.Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))
	return msg
}

// call sends a command and returns the ack error text. Unrelated messages
// that arrive first are kept for recv.
func (p *wsPeer) call(msg protocol.Message) string {
	p.t.Helper()
	p.ref++
	msg.Ref = p.ref
	require.NoError(p.t, p.conn.WriteJSON(msg))

	for {
		in := p.read()
		if in.Type == protocol.MsgAck && in.Ref == msg.Ref {
			return in.Error
		}
		p.pending = append(p.pending, in)
	}
}

// recv returns the next non-ack message.
func (p *wsPeer) recv() protocol.Message {
	p.t.Helper()
	if len(p.pending) > 0 {
		msg := p.pending[0]
		p.pending = p.pending[1:]
		return msg
	}
	return p.read()
}

func (p *wsPeer) advertise(name, service, strategy string) {
	p.t.Helper()
	require.Empty(p.t, p.call(protocol.Message{Type: protocol.MsgAdvertise, Name: name, Service: service, Strategy: strategy}))
}

func (p *wsPeer) discover(service string) {
	p.t.Helper()
	require.Empty(p.t, p.call(protocol.Message{Type: protocol.MsgDiscover, Service: service}))
}

// connect runs a full accepted handshake with b requesting a.
func connect(t *testing.T, a, b *wsPeer) {
	t.Helper()
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id, Name: "b"}))
	require.Equal(t, protocol.MsgInitiated, b.recv().Type)
	require.Equal(t, protocol.MsgInitiated, a.recv().Type)

	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgAccept, To: b.id}))
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgAccept, To: a.id}))
	require.Equal(t, "OK", a.recv().Status)
	require.Equal(t, "OK", b.recv().Status)
}

func TestDiscoverSeesExistingAdvertiser(t *testing.T) {
	url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	a.advertise("alice", "svc", "cluster")
	b.discover("svc")

	found := b.recv()
	assert.Equal(t, protocol.MsgFound, found.Type)
	assert.Equal(t, a.id, found.From)
	assert.Equal(t, "alice", found.Name)
	assert.Equal(t, "svc", found.Service)
	assert.Equal(t, "cluster", found.Strategy)

	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgStopAdvertise}))
	lost := b.recv()
	assert.Equal(t, protocol.MsgLost, lost.Type)
	assert.Equal(t, a.id, lost.From)
}

func TestAdvertiserAnnouncedToDiscoverers(t *testing.T) {
	url := startHub(t)
	a, b, c := dial(t, url), dial(t, url), dial(t, url)

	b.discover("svc")
	c.discover("other")
	a.advertise("alice", "svc", "cluster")

	found := b.recv()
	assert.Equal(t, protocol.MsgFound, found.Type)
	assert.Equal(t, a.id, found.From)

	// c is scanning a different service; its next message is the ack below.
	assert.Empty(t, c.call(protocol.Message{Type: protocol.MsgStopDiscover}))
	assert.Empty(t, c.pending)
}

func TestAdvertiseAndDiscoverTwice(t *testing.T) {
	url := startHub(t)
	a := dial(t, url)

	a.advertise("alice", "svc", "cluster")
	assert.NotEmpty(t, a.call(protocol.Message{Type: protocol.MsgAdvertise, Name: "alice", Service: "svc"}))

	a.discover("svc")
	assert.NotEmpty(t, a.call(protocol.Message{Type: protocol.MsgDiscover, Service: "svc"}))
}

func TestHandshakeAccepted(t *testing.T) {
	url := startHub(t)
	a, b := dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "cluster")

	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id, Name: "bob"}))

	out := b.recv()
	assert.Equal(t, protocol.MsgInitiated, out.Type)
	assert.Equal(t, a.id, out.From)
	assert.Equal(t, "alice", out.Name)
	assert.False(t, out.Incoming)

	in := a.recv()
	assert.Equal(t, protocol.MsgInitiated, in.Type)
	assert.Equal(t, b.id, in.From)
	assert.Equal(t, "bob", in.Name)
	assert.True(t, in.Incoming)

	assert.Len(t, in.Token, 4)
	assert.Equal(t, in.Token, out.Token, "both sides see the same token")

	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgAccept, To: b.id}))
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgAccept, To: a.id}))

	ra, rb := a.recv(), b.recv()
	assert.Equal(t, protocol.MsgResult, ra.Type)
	assert.Equal(t, "OK", ra.Status)
	assert.Equal(t, b.id, ra.From)
	assert.Equal(t, "OK", rb.Status)
	assert.Equal(t, a.id, rb.From)

	// Connected pairs can relay payload frames.
	frame := protocol.Encode(&protocol.Frame{Kind: protocol.KindBytes, PayloadID: 9, Body: []byte("hi")})
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgPayload, To: a.id, Frame: frame}))
	got := a.recv()
	assert.Equal(t, protocol.MsgPayload, got.Type)
	assert.Equal(t, b.id, got.From)
	assert.Equal(t, frame, got.Frame)

	// A local disconnect is reported to the other side only.
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgDisconnect, To: a.id}))
	gone := a.recv()
	assert.Equal(t, protocol.MsgDisconnected, gone.Type)
	assert.Equal(t, b.id, gone.From)
}

func TestHandshakeRejected(t *testing.T) {
	url := startHub(t)
	a, b := dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "cluster")

	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id, Name: "bob"}))
	b.recv()
	a.recv()

	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgAccept, To: a.id}))
	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgReject, To: b.id}))

	assert.Equal(t, "REJECTED", a.recv().Status)
	assert.Equal(t, "REJECTED", b.recv().Status)

	assert.NotEmpty(t, b.call(protocol.Message{Type: protocol.MsgPayload, To: a.id, Frame: []byte{1}}),
		"relay requires a connection")
	assert.NotEmpty(t, a.call(protocol.Message{Type: protocol.MsgAccept, To: b.id}),
		"nothing left to answer")
}

func TestRequestErrors(t *testing.T) {
	url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	assert.NotEmpty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: "ZZZZ"}), "unknown endpoint")
	assert.NotEmpty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id}), "not advertising")

	b.advertise("bob", "svc", "cluster")
	assert.NotEmpty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: b.id}), "self")

	a.advertise("alice", "svc", "cluster")
	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id}))
	assert.NotEmpty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id}), "already pending")
	assert.NotEmpty(t, a.call(protocol.Message{Type: protocol.MsgRequest, To: b.id}), "pair exists either way")

	assert.NotEmpty(t, a.call(protocol.Message{Type: "bogus"}))
}

func TestPointToPointAllowsOneConnection(t *testing.T) {
	url := startHub(t)
	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "point_to_point")

	connect(t, a, b)

	assert.NotEmpty(t, c.call(protocol.Message{Type: protocol.MsgRequest, To: a.id}))
}

func TestAbandonedHandshakeFailsOtherSide(t *testing.T) {
	url := startHub(t)
	a, b := dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "cluster")

	require.Empty(t, b.call(protocol.Message{Type: protocol.MsgRequest, To: a.id}))
	b.recv()
	a.recv()

	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgDisconnect, To: b.id}))
	res := b.recv()
	assert.Equal(t, protocol.MsgResult, res.Type)
	assert.Equal(t, "ERROR", res.Status)
	assert.Equal(t, a.id, res.From)
}

func TestStopAllEndsEveryPair(t *testing.T) {
	url := startHub(t)
	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "star")

	connect(t, a, b)
	connect(t, a, c)

	require.Empty(t, a.call(protocol.Message{Type: protocol.MsgStopAll}))
	assert.Equal(t, protocol.MsgDisconnected, b.recv().Type)
	assert.Equal(t, protocol.MsgDisconnected, c.recv().Type)
}

func TestDepartedPeerIsCleanedUp(t *testing.T) {
	url := startHub(t)
	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	a.advertise("alice", "svc", "cluster")
	c.discover("svc")
	require.Equal(t, protocol.MsgFound, c.recv().Type)

	connect(t, a, b)

	require.NoError(t, a.conn.Close())

	assert.Equal(t, protocol.MsgLost, c.recv().Type)
	gone := b.recv()
	assert.Equal(t, protocol.MsgDisconnected, gone.Type)
	assert.Equal(t, a.id, gone.From)
}

func TestServerStartAndClose(t *testing.T) {
	s := hub.NewServer()
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	p := dial(t, "ws://"+addr.String()+"/ws")
	assert.Eventually(t, func() bool { return s.Clients() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = p.conn.ReadMessage()
	assert.Error(t, err, "hub closed the connection")
}
