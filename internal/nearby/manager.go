package nearby

import (
	"context"
	"sort"
	"sync"

	"github.com/1ureka/nearby/internal/util"
)

// ConnectionManager owns the per-endpoint connection state machine and the
// active-connection record. At most one Connection is Connected at a time.
//
// All mutations happen under mu; mu is never held across a Transport call.
type ConnectionManager struct {
	tr          Transport
	dispatcher  *PayloadDispatcher
	notify      Notifier
	accept      AcceptPolicy
	postConnect PostConnectHook

	mu     sync.Mutex
	conns  map[string]*Connection
	active string // endpoint ID of the Connected endpoint, "" if none
}

// NewConnectionManager creates a manager. A nil accept policy means
// AcceptAll; a nil postConnect disables the post-connect hook.
func NewConnectionManager(tr Transport, d *PayloadDispatcher, notify Notifier, accept AcceptPolicy, postConnect PostConnectHook) *ConnectionManager {
	if accept == nil {
		accept = AcceptAll
	}
	return &ConnectionManager{
		tr:          tr,
		dispatcher:  d,
		notify:      notify,
		accept:      accept,
		postConnect: postConnect,
		conns:       make(map[string]*Connection),
	}
}

// ---------------------------------------------------------------------------
// LifecycleCallback
// ---------------------------------------------------------------------------

// OnConnectionInitiated runs the accept policy and answers the proposal.
// Proposals are rejected while another connection is active.
func (m *ConnectionManager) OnConnectionInitiated(ctx context.Context, endpointID string, info ConnectionInfo) {
	notifyf(m.notify, LevelInfo, "onConnectionInitiated: %s (%s), token %s, incoming=%t",
		endpointID, info.EndpointName, info.AuthToken, info.Incoming)

	ep := Endpoint{ID: endpointID, Name: info.EndpointName}

	m.mu.Lock()
	if c, ok := m.conns[endpointID]; ok && !c.State.Terminal() {
		state := c.State
		m.mu.Unlock()
		notifyf(m.notify, LevelWarning, "ignoring duplicate proposal from %s (state %s)", endpointID, state)
		return
	}

	c := &Connection{Endpoint: ep, State: StateInitiated, Incoming: info.Incoming, Token: info.AuthToken}
	m.conns[endpointID] = c

	busy := m.active != ""
	accept := !busy && m.accept(ep, info)

	// Either answer leaves the connection waiting for the transport's verdict.
	c.State = StateAwaitingResult
	m.mu.Unlock()

	var err error
	if accept {
		err = m.tr.AcceptConnection(ctx, endpointID)
	} else {
		if busy {
			notifyf(m.notify, LevelInfo, "rejecting %s: %v", endpointID, ErrBusy)
		} else {
			notifyf(m.notify, LevelInfo, "rejecting %s: refused by accept policy", endpointID)
		}
		err = m.tr.RejectConnection(ctx, endpointID)
	}

	if err != nil {
		m.mu.Lock()
		if c.State == StateAwaitingResult {
			c.State = StateErrored
		}
		m.mu.Unlock()
		notifyf(m.notify, LevelError, "failed to answer proposal from %s: %v", endpointID, err)
	}
}

// OnConnectionResult applies the transport's verdict. Results for endpoints
// not awaiting one (late results after a stop, duplicates) are ignored.
func (m *ConnectionManager) OnConnectionResult(ctx context.Context, endpointID string, status Status) {
	m.mu.Lock()
	c, ok := m.conns[endpointID]
	if !ok || c.State != StateAwaitingResult {
		m.mu.Unlock()
		notifyf(m.notify, LevelWarning, "ignoring connection result %s for %s: not awaiting a result", status, endpointID)
		return
	}

	var superseded string
	switch status {
	case StatusOK:
		c.State = StateConnected
		if m.active != "" && m.active != endpointID {
			superseded = m.active
			if old, ok := m.conns[superseded]; ok {
				old.State = StateDisconnected
			}
		}
		m.active = endpointID
	case StatusRejected:
		c.State = StateRejected
	default:
		c.State = StateErrored
	}
	m.mu.Unlock()

	switch status {
	case StatusOK:
		util.Stats.AddConn()
		if superseded != "" {
			m.dispatcher.forget(superseded)
			m.tr.DisconnectFromEndpoint(superseded)
			util.Stats.RemoveConn()
			notifyf(m.notify, LevelWarning, "connection to %s superseded by %s", superseded, endpointID)
		}
		notifyf(m.notify, LevelSuccess, "onConnectionResult: %s, %s", endpointID, status)
		if m.postConnect != nil {
			_ = m.postConnect(ctx, m.dispatcher, endpointID)
		}
	case StatusRejected:
		notifyf(m.notify, LevelWarning, "onConnectionResult: %s, %s", endpointID, status)
	default:
		notifyf(m.notify, LevelError, "onConnectionResult: %s, %s", endpointID, status)
	}
}

// OnDisconnected clears the active record and disconnects from the endpoint.
// Every call produces exactly one outbound disconnect.
func (m *ConnectionManager) OnDisconnected(endpointID string) {
	m.mu.Lock()
	wasActive := m.active == endpointID
	if wasActive {
		m.active = ""
	}
	if c, ok := m.conns[endpointID]; ok && c.State == StateConnected {
		c.State = StateDisconnected
	}
	m.mu.Unlock()

	m.dispatcher.forget(endpointID)
	if wasActive {
		util.Stats.RemoveConn()
	}
	notifyf(m.notify, LevelInfo, "onDisconnected: %s", endpointID)

	m.tr.DisconnectFromEndpoint(endpointID)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Disconnect tears down the active connection. It is a no-op when nothing
// is connected.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	id := m.active
	m.active = ""
	if c, ok := m.conns[id]; ok && c.State == StateConnected {
		c.State = StateDisconnected
	}
	m.mu.Unlock()

	if id == "" {
		notifyf(m.notify, LevelInfo, "disconnect: no active connection")
		return
	}

	m.dispatcher.forget(id)
	m.tr.DisconnectFromEndpoint(id)
	util.Stats.RemoveConn()
	notifyf(m.notify, LevelInfo, "disconnected from %s", id)
}

// Send delivers text to the active endpoint.
func (m *ConnectionManager) Send(ctx context.Context, text string) error {
	id := m.Active()
	if id == "" {
		notifyf(m.notify, LevelError, "cannot send %q: %v", text, ErrNoActiveConnection)
		return ErrNoActiveConnection
	}
	return m.dispatcher.Send(ctx, id, []byte(text))
}

// Reset forgets every live connection after the transport dropped all
// endpoints. Pending handshakes become Errored, Connected ones Disconnected.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conns {
		switch c.State {
		case StateInitiated, StateAwaitingResult:
			c.State = StateErrored
		case StateConnected:
			c.State = StateDisconnected
			util.Stats.RemoveConn()
		}
	}
	m.active = ""
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Active returns the endpoint ID of the Connected endpoint, or "".
func (m *ConnectionManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Busy reports whether a connection is active.
func (m *ConnectionManager) Busy() bool {
	return m.Active() != ""
}

// State returns the state of the latest Connection for endpointID.
func (m *ConnectionManager) State(endpointID string) (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[endpointID]
	if !ok {
		return 0, false
	}
	return c.State, true
}

// Connections returns a copy of every known Connection, ordered by endpoint ID.
func (m *ConnectionManager) Connections() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.ID < out[j].Endpoint.ID })
	return out
}
