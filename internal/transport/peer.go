package transport

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: peers that cannot reach
// each other directly should use the relay link.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stun},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated payload channel (ID 0), so both
// sides can create it without waiting for OnDataChannel. It is ordered:
// payloads from one endpoint arrive in the order they were sent.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("payload", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
}
