package nearby_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/nearby/internal/nearby"
)

// Compile-time interface checks.
var (
	_ nearby.Transport = (*stubTransport)(nil)
	_ nearby.Transport = (*linkedTransport)(nil)
)

// ---------------------------------------------------------------------------
// stubTransport
// ---------------------------------------------------------------------------

// stubTransport records every command and fails the ones it is told to.
// It never produces events on its own; tests push them with emit.
type stubTransport struct {
	mu sync.Mutex

	advertising bool
	discovering bool

	startAdvErr  error
	startDiscErr error
	requestErrs  []error // consumed one per RequestConnection call
	acceptErr    error
	sendErr      error

	requests    []string
	accepted    []string
	rejected    []string
	sent        []nearby.Payload
	disconnects []string
	stopAll     int

	events chan nearby.Event
}

func newStubTransport() *stubTransport {
	return &stubTransport{events: make(chan nearby.Event, 256)}
}

func (s *stubTransport) StartAdvertising(ctx context.Context, name, serviceID string, strategy nearby.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startAdvErr != nil {
		return s.startAdvErr
	}
	if s.advertising {
		return errors.New("already advertising")
	}
	s.advertising = true
	return nil
}

func (s *stubTransport) StopAdvertising() {
	s.mu.Lock()
	s.advertising = false
	s.mu.Unlock()
}

func (s *stubTransport) StartDiscovery(ctx context.Context, serviceID string, strategy nearby.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startDiscErr != nil {
		return s.startDiscErr
	}
	if s.discovering {
		return errors.New("already discovering")
	}
	s.discovering = true
	return nil
}

func (s *stubTransport) StopDiscovery() {
	s.mu.Lock()
	s.discovering = false
	s.mu.Unlock()
}

func (s *stubTransport) RequestConnection(ctx context.Context, name, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, endpointID)
	if len(s.requestErrs) > 0 {
		err := s.requestErrs[0]
		s.requestErrs = s.requestErrs[1:]
		return err
	}
	return nil
}

func (s *stubTransport) AcceptConnection(ctx context.Context, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, endpointID)
	return s.acceptErr
}

func (s *stubTransport) RejectConnection(ctx context.Context, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, endpointID)
	return nil
}

func (s *stubTransport) SendPayload(ctx context.Context, endpointID string, p nearby.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, p)
	return nil
}

func (s *stubTransport) DisconnectFromEndpoint(endpointID string) {
	s.mu.Lock()
	s.disconnects = append(s.disconnects, endpointID)
	s.mu.Unlock()
}

func (s *stubTransport) StopAllEndpoints() {
	s.mu.Lock()
	s.stopAll++
	s.mu.Unlock()
}

func (s *stubTransport) Events() <-chan nearby.Event { return s.events }

func (s *stubTransport) emit(ev nearby.Event) { s.events <- ev }

func (s *stubTransport) state() (advertising, discovering bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising, s.discovering
}

// stubCalls is a point-in-time copy of the commands a stubTransport saw.
type stubCalls struct {
	requests    []string
	accepted    []string
	rejected    []string
	sent        []nearby.Payload
	disconnects []string
	stopAll     int
}

func (s *stubTransport) snapshot() stubCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stubCalls{
		requests:    append([]string(nil), s.requests...),
		accepted:    append([]string(nil), s.accepted...),
		rejected:    append([]string(nil), s.rejected...),
		sent:        append([]nearby.Payload(nil), s.sent...),
		disconnects: append([]string(nil), s.disconnects...),
		stopAll:     s.stopAll,
	}
}

// ---------------------------------------------------------------------------
// linkedTransport
// ---------------------------------------------------------------------------

// link is the medium shared by two linkedTransports: it holds the handshake
// and connection state of the single pair.
type link struct {
	mu        sync.Mutex
	pending   bool
	decisions map[string]bool // endpoint ID of the deciding side → accepted
	connected bool
}

// linkedTransport simulates a proximity medium between exactly two peers.
// Events are queued onto the receiving side's channel in order and consumed
// asynchronously by its Node.Run loop.
type linkedTransport struct {
	id   string // endpoint ID the peer sees for this side
	name string
	peer *linkedTransport
	link *link

	mu          sync.Mutex
	advertising bool
	discovering bool
	disconnects []string

	events chan nearby.Event
}

// linkedTransports creates a linked pair with the given endpoint IDs.
func linkedTransports(idA, idB string) (a, b *linkedTransport) {
	l := &link{decisions: make(map[string]bool)}
	a = &linkedTransport{id: idA, link: l, events: make(chan nearby.Event, 1024)}
	b = &linkedTransport{id: idB, link: l, events: make(chan nearby.Event, 1024)}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *linkedTransport) push(ev nearby.Event) { t.events <- ev }

func (t *linkedTransport) isAdvertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertising
}

func (t *linkedTransport) isDiscovering() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discovering
}

func (t *linkedTransport) StartAdvertising(ctx context.Context, name, serviceID string, strategy nearby.Strategy) error {
	t.mu.Lock()
	if t.advertising {
		t.mu.Unlock()
		return errors.New("already advertising")
	}
	t.advertising = true
	t.name = name
	t.mu.Unlock()

	if t.peer.isDiscovering() {
		t.peer.push(nearby.EndpointFound{EndpointID: t.id, Info: nearby.DiscoveredEndpointInfo{EndpointName: name, ServiceID: serviceID}})
	}
	return nil
}

func (t *linkedTransport) StopAdvertising() {
	t.mu.Lock()
	was := t.advertising
	t.advertising = false
	t.mu.Unlock()

	if was && t.peer.isDiscovering() {
		t.peer.push(nearby.EndpointLost{EndpointID: t.id})
	}
}

func (t *linkedTransport) StartDiscovery(ctx context.Context, serviceID string, strategy nearby.Strategy) error {
	t.mu.Lock()
	if t.discovering {
		t.mu.Unlock()
		return errors.New("already discovering")
	}
	t.discovering = true
	t.mu.Unlock()

	if t.peer.isAdvertising() {
		t.peer.mu.Lock()
		name := t.peer.name
		t.peer.mu.Unlock()
		t.push(nearby.EndpointFound{EndpointID: t.peer.id, Info: nearby.DiscoveredEndpointInfo{EndpointName: name, ServiceID: serviceID}})
	}
	return nil
}

func (t *linkedTransport) StopDiscovery() {
	t.mu.Lock()
	t.discovering = false
	t.mu.Unlock()
}

func (t *linkedTransport) RequestConnection(ctx context.Context, name, endpointID string) error {
	if endpointID != t.peer.id || !t.peer.isAdvertising() {
		return fmt.Errorf("endpoint %s is not advertising", endpointID)
	}

	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	if t.link.pending || t.link.connected {
		return errors.New("already connecting")
	}
	t.link.pending = true
	clear(t.link.decisions)

	t.peer.mu.Lock()
	peerName := t.peer.name
	t.peer.mu.Unlock()

	t.push(nearby.ConnectionInitiated{EndpointID: t.peer.id, Info: nearby.ConnectionInfo{EndpointName: peerName, AuthToken: "1234"}})
	t.peer.push(nearby.ConnectionInitiated{EndpointID: t.id, Info: nearby.ConnectionInfo{EndpointName: name, AuthToken: "1234", Incoming: true}})
	return nil
}

func (t *linkedTransport) decide(endpointID string, accept bool) error {
	if endpointID != t.peer.id {
		return fmt.Errorf("unknown endpoint %s", endpointID)
	}

	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	if !t.link.pending {
		return errors.New("no pending connection")
	}
	t.link.decisions[t.id] = accept
	if len(t.link.decisions) < 2 {
		return nil
	}

	status := nearby.StatusOK
	for _, ok := range t.link.decisions {
		if !ok {
			status = nearby.StatusRejected
		}
	}
	t.link.pending = false
	t.link.connected = status == nearby.StatusOK

	t.push(nearby.ConnectionResult{EndpointID: t.peer.id, Status: status})
	t.peer.push(nearby.ConnectionResult{EndpointID: t.id, Status: status})
	return nil
}

func (t *linkedTransport) AcceptConnection(ctx context.Context, endpointID string) error {
	return t.decide(endpointID, true)
}

func (t *linkedTransport) RejectConnection(ctx context.Context, endpointID string) error {
	return t.decide(endpointID, false)
}

func (t *linkedTransport) SendPayload(ctx context.Context, endpointID string, p nearby.Payload) error {
	t.link.mu.Lock()
	connected := t.link.connected
	t.link.mu.Unlock()

	if !connected || endpointID != t.peer.id {
		return fmt.Errorf("not connected to %s", endpointID)
	}

	body := append([]byte(nil), p.Bytes...)
	t.peer.push(nearby.PayloadReceived{EndpointID: t.id, Payload: nearby.Payload{ID: p.ID, Kind: p.Kind, Bytes: body, Size: p.Size}})
	t.peer.push(nearby.PayloadTransferUpdate{EndpointID: t.id, Update: nearby.TransferUpdate{
		PayloadID: p.ID, Status: nearby.TransferSuccess, BytesTransferred: p.Size, TotalBytes: p.Size,
	}})
	return nil
}

func (t *linkedTransport) DisconnectFromEndpoint(endpointID string) {
	t.mu.Lock()
	t.disconnects = append(t.disconnects, endpointID)
	t.mu.Unlock()

	t.link.mu.Lock()
	was := t.link.connected
	t.link.connected = false
	t.link.mu.Unlock()

	if was {
		t.peer.push(nearby.Disconnected{EndpointID: t.id})
	}
}

func (t *linkedTransport) StopAllEndpoints() {
	t.DisconnectFromEndpoint(t.peer.id)
}

func (t *linkedTransport) Events() <-chan nearby.Event { return t.events }

func (t *linkedTransport) disconnectCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.disconnects...)
}

// ---------------------------------------------------------------------------
// Notification recorder
// ---------------------------------------------------------------------------

type line struct {
	level nearby.Level
	msg   string
}

// recorder is a Notifier that keeps every line for later inspection.
type recorder struct {
	mu    sync.Mutex
	lines []line
}

func (r *recorder) Notify(level nearby.Level, msg string) {
	r.mu.Lock()
	r.lines = append(r.lines, line{level, msg})
	r.mu.Unlock()
}

// count returns how many lines at level contain substr.
func (r *recorder) count(level nearby.Level, substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if l.level == level && strings.Contains(l.msg, substr) {
			n++
		}
	}
	return n
}

// errorCount returns the number of error-level lines.
func (r *recorder) errorCount() int {
	return r.count(nearby.LevelError, "")
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// runNode starts n.Run in the background and stops it when the test ends.
func runNode(t *testing.T, n *nearby.Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msgAndArgs...)
}
