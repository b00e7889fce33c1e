// Package nearby implements endpoint discovery and the connection lifecycle on
// top of an abstract proximity Transport. It advertises a local identity,
// requests connections to discovered endpoints, runs the accept handshake and
// exchanges typed payloads once a connection is established.
package nearby

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultServiceID scopes discovery to this application.
const DefaultServiceID = "com.github.okwrtdsh.nearbytest"

// Strategy is the discovery/connection topology requested from the transport.
type Strategy string

const (
	StrategyCluster      Strategy = "cluster"        // many-to-many
	StrategyStar         Strategy = "star"           // one hub, many spokes
	StrategyPointToPoint Strategy = "point_to_point" // exactly one peer
)

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCluster, StrategyStar, StrategyPointToPoint:
		return Strategy(s), nil
	case "":
		return StrategyCluster, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// LocalIdentity is the nickname this node advertises and requests with.
// It is regenerated for every session and never persisted.
type LocalIdentity struct {
	Nickname string
}

// NewLocalIdentity returns an identity with a random UUID nickname.
func NewLocalIdentity() LocalIdentity {
	return LocalIdentity{Nickname: uuid.NewString()}
}

// Endpoint is a remote identity reported by the transport.
type Endpoint struct {
	ID        string // opaque, transport-assigned
	Name      string // remote nickname
	ServiceID string
}

// DiscoveredEndpointInfo accompanies an EndpointFound event.
type DiscoveredEndpointInfo struct {
	EndpointName string
	ServiceID    string
}

// ConnectionInfo accompanies a ConnectionInitiated event.
type ConnectionInfo struct {
	EndpointName string
	AuthToken    string
	Incoming     bool // true when the remote side requested the connection
}

// ---------------------------------------------------------------------------
// Connection state
// ---------------------------------------------------------------------------

// ConnectionState is the lifecycle state of a single Connection.
type ConnectionState int

const (
	StateInitiated ConnectionState = iota
	StateAwaitingResult
	StateConnected
	StateRejected
	StateErrored
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateAwaitingResult:
		return "awaiting_result"
	case StateConnected:
		return "connected"
	case StateRejected:
		return "rejected"
	case StateErrored:
		return "errored"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s ConnectionState) Terminal() bool {
	return s == StateRejected || s == StateErrored || s == StateDisconnected
}

// Status is the outcome of a connection attempt as reported by the transport.
type Status int

const (
	StatusOK Status = iota
	StatusRejected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRejected:
		return "REJECTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "OK":
		return StatusOK, nil
	case "REJECTED":
		return StatusRejected, nil
	case "ERROR":
		return StatusError, nil
	default:
		return StatusError, fmt.Errorf("unknown connection status %q", s)
	}
}

// Connection is owned by ConnectionManager. Callers only ever see copies.
type Connection struct {
	Endpoint Endpoint
	State    ConnectionState
	Incoming bool
	Token    string
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// PayloadKind identifies how a payload body is carried.
type PayloadKind uint8

const (
	KindBytes  PayloadKind = 0x01
	KindFile   PayloadKind = 0x02
	KindStream PayloadKind = 0x03
)

func (k PayloadKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Payload is a unit of transferred data. Bytes is only populated for
// KindBytes; File and Stream payloads carry a size descriptor only.
type Payload struct {
	ID    int64
	Kind  PayloadKind
	Bytes []byte
	Size  int64
}

// TransferStatus is the progress state of a payload transfer.
type TransferStatus int

const (
	TransferInProgress TransferStatus = iota
	TransferSuccess
	TransferFailure
	TransferCanceled
)

func (s TransferStatus) String() string {
	switch s {
	case TransferInProgress:
		return "in_progress"
	case TransferSuccess:
		return "success"
	case TransferFailure:
		return "failure"
	case TransferCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Done reports whether the transfer reached a final state.
func (s TransferStatus) Done() bool {
	return s != TransferInProgress
}

// TransferUpdate reports progress for one payload ID.
type TransferUpdate struct {
	PayloadID        int64
	Status           TransferStatus
	BytesTransferred int64
	TotalBytes       int64
}
