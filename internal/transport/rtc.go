package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nearby/internal/protocol"
	"github.com/1ureka/nearby/internal/util"
)

var (
	errNoLink     = errors.New("no link to endpoint")
	errLinkClosed = errors.New("link closed")
)

// rtcLink upgrades every connected endpoint to a direct PeerConnection. The
// hub relays the offer, answer and ICE candidates; the requester offers.
type rtcLink struct {
	t *Transport

	mu       sync.Mutex
	sessions map[string]*rtcSession
}

func newRTCLink(t *Transport) *rtcLink {
	return &rtcLink{t: t, sessions: make(map[string]*rtcSession)}
}

// rtcSession is one PeerConnection + DataChannel pair.
type rtcSession struct {
	endpointID string
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Remote candidates that arrived before the remote description.
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (l *rtcLink) open(endpointID string, offerer bool) {
	s, err := l.newSession(endpointID)
	if err != nil {
		util.LogError("[transport] failed to set up WebRTC link to %s: %v", endpointID, err)
		return
	}

	l.mu.Lock()
	if old, ok := l.sessions[endpointID]; ok {
		old.close()
	}
	l.sessions[endpointID] = s
	l.mu.Unlock()

	if offerer {
		if err := l.offer(s); err != nil {
			util.LogError("[transport] offer to %s failed: %v", endpointID, err)
		}
	}
}

func (l *rtcLink) newSession(endpointID string) (*rtcSession, error) {
	pc, err := newPeerConnection(l.t.opts.STUN)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(l.t.ctx)
	s := &rtcSession{
		endpointID: endpointID,
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		util.LogDebug("[transport] DataChannel to %s open", endpointID)
		openOnce.Do(func() { close(s.openSignal) })
	})
	dc.OnClose(func() {
		util.LogDebug("[transport] DataChannel to %s closed", endpointID)
		cancel()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.t.deliver(endpointID, msg.Data)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("[transport] PeerConnection to %s: %s", endpointID, state.String())
	})

	// Trickle ICE candidates through the hub.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		l.t.post(protocol.Message{Type: protocol.MsgCandidate, To: endpointID, Candidate: string(data)})
	})

	s.sender = newSender(ctx, endpointID, dc, s.openSignal)
	return s, nil
}

func (l *rtcLink) offer(s *rtcSession) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	l.t.post(protocol.Message{Type: protocol.MsgOffer, To: s.endpointID, SDP: offer.SDP})
	return nil
}

func (l *rtcLink) signal(msg protocol.Message) {
	l.mu.Lock()
	s, ok := l.sessions[msg.From]
	l.mu.Unlock()
	if !ok {
		util.LogDebug("[transport] %s from %s without a link", msg.Type, msg.From)
		return
	}

	if err := l.apply(s, msg); err != nil {
		util.LogWarning("[transport] %s from %s: %v", msg.Type, msg.From, err)
	}
}

func (l *rtcLink) apply(s *rtcSession, msg protocol.Message) error {
	switch msg.Type {
	case protocol.MsgOffer:
		if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
			return err
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("CreateAnswer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		l.t.post(protocol.Message{Type: protocol.MsgAnswer, To: s.endpointID, SDP: answer.SDP})
		return nil

	case protocol.MsgAnswer:
		return s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})

	case protocol.MsgCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			return err
		}
		return s.addCandidate(init)
	}
	return nil
}

func (l *rtcLink) send(ctx context.Context, endpointID string, frame []byte) error {
	l.mu.Lock()
	s, ok := l.sessions[endpointID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", endpointID, errNoLink)
	}
	return s.sender.send(ctx, s.ctx, frame)
}

func (l *rtcLink) close(endpointID string) {
	l.mu.Lock()
	s, ok := l.sessions[endpointID]
	delete(l.sessions, endpointID)
	l.mu.Unlock()

	if ok {
		if err := s.close(); err != nil {
			util.LogDebug("[transport] closing link to %s: %v", endpointID, err)
		}
	}
}

func (l *rtcLink) closeAll() error {
	l.mu.Lock()
	sessions := l.sessions
	l.sessions = make(map[string]*rtcSession)
	l.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.close())
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// rtcSession
// ---------------------------------------------------------------------------

func (s *rtcSession) setRemote(sdp webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			util.LogDebug("[transport] AddICECandidate: %v", err)
		}
	}
	return nil
}

func (s *rtcSession) addCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

func (s *rtcSession) close() error {
	s.cancel()
	return errors.Join(s.dc.Close(), s.pc.Close())
}
