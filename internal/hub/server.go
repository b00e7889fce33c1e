// Package hub implements the rendezvous medium peers use in place of a radio:
// a WebSocket server that tracks who advertises and who discovers per service,
// brokers the connection handshake and relays traffic between connected pairs.
package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/nearby/internal/nearby"
	"github.com/1ureka/nearby/internal/protocol"
	"github.com/1ureka/nearby/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	errAlreadyAdvertising = errors.New("already advertising")
	errAlreadyDiscovering = errors.New("already discovering")
	errUnknownEndpoint    = errors.New("unknown endpoint")
	errNotAdvertising     = errors.New("endpoint is not advertising")
	errSelf               = errors.New("cannot connect to self")
	errAlreadyPaired      = errors.New("already connecting or connected")
	errNoPending          = errors.New("no pending connection")
	errAlreadyAnswered    = errors.New("already answered")
	errNotConnected       = errors.New("not connected")
	errPointToPoint       = errors.New("point-to-point endpoint already has a connection")
)

// pairKey identifies a pair of clients regardless of who initiated.
type pairKey struct{ a, b string }

func keyOf(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

// pair is a handshake in progress or an established connection.
type pair struct {
	requester string
	target    string
	token     string
	decisions map[string]bool // client ID → accepted
	connected bool
}

func (p *pair) other(id string) string {
	if id == p.requester {
		return p.target
	}
	return p.requester
}

// Server is the hub. The zero value is not usable; call NewServer.
type Server struct {
	listener net.Listener
	httpSrv  *http.Server

	mu      sync.Mutex
	clients map[string]*client
	pairs   map[pairKey]*pair
}

// NewServer creates an idle hub.
func NewServer() *Server {
	return &Server{
		clients: make(map[string]*client),
		pairs:   make(map[pairKey]*pair),
	}
}

// Handler returns the HTTP handler serving the hub at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start hub: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("[hub] serve: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close stops accepting peers and disconnects every connected one.
func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	return err
}

// Clients returns the number of connected peers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ---------------------------------------------------------------------------
// Connection handling
// ---------------------------------------------------------------------------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := s.register(conn)
	util.LogInfo("[hub] %s connected from %s", c.id, conn.RemoteAddr())

	s.watch(c)

	s.drop(c)
	util.LogInfo("[hub] %s left", c.id)
}

// register assigns a unique endpoint ID and greets the client with it.
func (s *Server) register(conn *websocket.Conn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		id = util.EndpointIDFromConn(conn.UnderlyingConn(), uuid.NewString())
		if _, taken := s.clients[id]; !taken {
			break
		}
	}

	c := newClient(id, conn)
	s.clients[id] = c
	c.send(protocol.Message{Type: protocol.MsgWelcome, To: id})
	return c
}

// watch reads commands until the connection fails.
func (s *Server) watch(c *client) {
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			util.LogDebug("[hub] read from %s: %v", c.id, err)
			return
		}
		s.handle(c, msg)
	}
}

// handle applies one command. All hub state changes happen under s.mu, and
// every resulting message is queued before the lock is released so that
// each client observes events in the order the hub decided them.
func (s *Server) handle(c *client, msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case protocol.MsgAdvertise:
		c.ack(msg.Ref, s.advertise(c, msg))
	case protocol.MsgStopAdvertise:
		s.stopAdvertise(c)
		c.ack(msg.Ref, nil)
	case protocol.MsgDiscover:
		if c.discover != "" {
			c.ack(msg.Ref, errAlreadyDiscovering)
			return
		}
		c.discover = msg.Service
		c.ack(msg.Ref, nil)
		s.announceTo(c)
	case protocol.MsgStopDiscover:
		c.discover = ""
		c.ack(msg.Ref, nil)
	case protocol.MsgRequest:
		s.request(c, msg)
	case protocol.MsgAccept, protocol.MsgReject:
		c.ack(msg.Ref, s.decide(c, msg.To, msg.Type == protocol.MsgAccept))
	case protocol.MsgDisconnect:
		s.disconnect(c, msg.To)
		c.ack(msg.Ref, nil)
	case protocol.MsgStopAll:
		for _, other := range s.peersOf(c.id) {
			s.disconnect(c, other)
		}
		c.ack(msg.Ref, nil)
	default:
		if msg.Type.Relayed() {
			c.ack(msg.Ref, s.relay(c, msg))
			return
		}
		c.ack(msg.Ref, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// drop removes a departed client: its discoverers lose it, its handshakes
// fail and its connections are reported disconnected.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAdvertise(c)
	for _, other := range s.peersOf(c.id) {
		s.disconnect(c, other)
	}
	delete(s.clients, c.id)
	c.close()
}

// ---------------------------------------------------------------------------
// Advertising and discovery (caller holds s.mu)
// ---------------------------------------------------------------------------

func (s *Server) advertise(c *client, msg protocol.Message) error {
	if c.advert != nil {
		return errAlreadyAdvertising
	}
	c.advert = &advert{name: msg.Name, service: msg.Service, strategy: msg.Strategy}

	for _, d := range s.clients {
		if d != c && d.discover == msg.Service {
			d.send(foundMessage(c))
		}
	}
	return nil
}

func (s *Server) stopAdvertise(c *client) {
	if c.advert == nil {
		return
	}
	service := c.advert.service
	c.advert = nil

	for _, d := range s.clients {
		if d != c && d.discover == service {
			d.send(protocol.Message{Type: protocol.MsgLost, From: c.id, Service: service})
		}
	}
}

// announceTo tells a new discoverer about every current advertiser.
func (s *Server) announceTo(c *client) {
	for _, a := range s.clients {
		if a != c && a.advert != nil && a.advert.service == c.discover {
			c.send(foundMessage(a))
		}
	}
}

func foundMessage(a *client) protocol.Message {
	return protocol.Message{
		Type:     protocol.MsgFound,
		From:     a.id,
		Name:     a.advert.name,
		Service:  a.advert.service,
		Strategy: a.advert.strategy,
	}
}

// ---------------------------------------------------------------------------
// Handshake and relay (caller holds s.mu)
// ---------------------------------------------------------------------------

func (s *Server) request(c *client, msg protocol.Message) {
	target, ok := s.clients[msg.To]
	switch {
	case !ok:
		c.ack(msg.Ref, errUnknownEndpoint)
		return
	case target == c:
		c.ack(msg.Ref, errSelf)
		return
	case target.advert == nil:
		c.ack(msg.Ref, errNotAdvertising)
		return
	}

	key := keyOf(c.id, target.id)
	if _, exists := s.pairs[key]; exists {
		c.ack(msg.Ref, errAlreadyPaired)
		return
	}
	if target.advert.strategy == string(nearby.StrategyPointToPoint) && len(s.peersOf(target.id)) > 0 {
		c.ack(msg.Ref, errPointToPoint)
		return
	}

	p := &pair{
		requester: c.id,
		target:    target.id,
		token:     generatePIN(4),
		decisions: make(map[string]bool),
	}
	s.pairs[key] = p
	c.ack(msg.Ref, nil)

	c.send(protocol.Message{Type: protocol.MsgInitiated, From: target.id, Name: target.advert.name, Token: p.token})
	target.send(protocol.Message{Type: protocol.MsgInitiated, From: c.id, Name: msg.Name, Token: p.token, Incoming: true})
}

func (s *Server) decide(c *client, to string, accept bool) error {
	key := keyOf(c.id, to)
	p, ok := s.pairs[key]
	if !ok || p.connected {
		return errNoPending
	}
	if _, answered := p.decisions[c.id]; answered {
		return errAlreadyAnswered
	}
	p.decisions[c.id] = accept
	if len(p.decisions) < 2 {
		return nil
	}

	status := nearby.StatusOK
	for _, ok := range p.decisions {
		if !ok {
			status = nearby.StatusRejected
		}
	}
	if status == nearby.StatusOK {
		p.connected = true
	} else {
		delete(s.pairs, key)
	}

	s.sendTo(p.requester, protocol.Message{Type: protocol.MsgResult, From: p.target, Status: status.String()})
	s.sendTo(p.target, protocol.Message{Type: protocol.MsgResult, From: p.requester, Status: status.String()})
	return nil
}

// disconnect ends the pair between c and to. The other side learns about it;
// c does not, matching the platform contract for local disconnects.
func (s *Server) disconnect(c *client, to string) {
	key := keyOf(c.id, to)
	p, ok := s.pairs[key]
	if !ok {
		return
	}
	delete(s.pairs, key)

	if p.connected {
		s.sendTo(to, protocol.Message{Type: protocol.MsgDisconnected, From: c.id})
		return
	}
	// An unfinished handshake fails for the side that is still waiting.
	s.sendTo(to, protocol.Message{Type: protocol.MsgResult, From: c.id, Status: nearby.StatusError.String()})
}

func (s *Server) relay(c *client, msg protocol.Message) error {
	p, ok := s.pairs[keyOf(c.id, msg.To)]
	if !ok || !p.connected {
		return errNotConnected
	}

	fwd := msg
	fwd.Ref = 0
	fwd.From = c.id
	fwd.To = ""
	s.sendTo(msg.To, fwd)
	return nil
}

// peersOf lists every client paired (pending or connected) with id.
func (s *Server) peersOf(id string) []string {
	var out []string
	for _, p := range s.pairs {
		if p.requester == id || p.target == id {
			out = append(out, p.other(id))
		}
	}
	return out
}

func (s *Server) sendTo(id string, msg protocol.Message) {
	if c, ok := s.clients[id]; ok {
		c.send(msg)
	}
}

// generatePIN returns a random numeric token of the specified length. Both
// sides of a handshake see the same token.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
