package protocol

// MessageType identifies the kind of hub message.
type MessageType string

// Client → hub commands. Every command carrying a Ref is answered with an Ack.
const (
	MsgAdvertise     MessageType = "advertise"
	MsgStopAdvertise MessageType = "stop_advertise"
	MsgDiscover      MessageType = "discover"
	MsgStopDiscover  MessageType = "stop_discover"
	MsgRequest       MessageType = "request"
	MsgAccept        MessageType = "accept"
	MsgReject        MessageType = "reject"
	MsgDisconnect    MessageType = "disconnect"
	MsgStopAll       MessageType = "stop_all"
)

// Hub → client notifications.
const (
	MsgWelcome      MessageType = "welcome"
	MsgAck          MessageType = "ack"
	MsgFound        MessageType = "found"
	MsgLost         MessageType = "lost"
	MsgInitiated    MessageType = "initiated"
	MsgResult       MessageType = "result"
	MsgDisconnected MessageType = "disconnected"
)

// Relayed between connected peers in both directions.
const (
	MsgPayload   MessageType = "payload"
	MsgOffer     MessageType = "offer"
	MsgAnswer    MessageType = "answer"
	MsgCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the hub WebSocket.
type Message struct {
	Type     MessageType `json:"type"`
	Ref      uint64      `json:"ref,omitempty"` // correlates a command with its ack
	From     string      `json:"from,omitempty"`
	To       string      `json:"to,omitempty"`
	Name     string      `json:"name,omitempty"`
	Service  string      `json:"service,omitempty"`
	Strategy string      `json:"strategy,omitempty"`
	Incoming bool        `json:"incoming,omitempty"`
	Token    string      `json:"token,omitempty"`
	Status   string      `json:"status,omitempty"` // OK, REJECTED or ERROR
	Error    string      `json:"error,omitempty"`
	Frame    []byte      `json:"frame,omitempty"` // encoded Frame, base64 in JSON

	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// Relayed reports whether the hub forwards t between connected peers.
func (t MessageType) Relayed() bool {
	switch t {
	case MsgPayload, MsgOffer, MsgAnswer, MsgCandidate:
		return true
	default:
		return false
	}
}
