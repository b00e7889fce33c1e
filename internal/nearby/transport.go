package nearby

import "context"

// Transport is the platform proximity service. It performs the actual
// advertise/discover/send work and reports everything that happens
// asynchronously on Events().
//
// Commands may block until the platform acknowledges them, bounded by ctx.
// Implementations must never block event delivery on a slow consumer.
type Transport interface {
	StartAdvertising(ctx context.Context, name, serviceID string, strategy Strategy) error
	StopAdvertising()
	StartDiscovery(ctx context.Context, serviceID string, strategy Strategy) error
	StopDiscovery()

	RequestConnection(ctx context.Context, name, endpointID string) error
	AcceptConnection(ctx context.Context, endpointID string) error
	RejectConnection(ctx context.Context, endpointID string) error

	SendPayload(ctx context.Context, endpointID string, p Payload) error

	// DisconnectFromEndpoint and StopAllEndpoints are fire-and-forget and
	// tolerate unknown or already-disconnected endpoints.
	DisconnectFromEndpoint(endpointID string)
	StopAllEndpoints()

	// Events is closed when the transport shuts down.
	Events() <-chan Event
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is one asynchronous notification from the Transport. The concrete
// types below are the only implementations.
type Event interface {
	Endpoint() string
}

type EndpointFound struct {
	EndpointID string
	Info       DiscoveredEndpointInfo
}

type EndpointLost struct {
	EndpointID string
}

type ConnectionInitiated struct {
	EndpointID string
	Info       ConnectionInfo
}

type ConnectionResult struct {
	EndpointID string
	Status     Status
}

type Disconnected struct {
	EndpointID string
}

type PayloadReceived struct {
	EndpointID string
	Payload    Payload
}

type PayloadTransferUpdate struct {
	EndpointID string
	Update     TransferUpdate
}

func (e EndpointFound) Endpoint() string         { return e.EndpointID }
func (e EndpointLost) Endpoint() string          { return e.EndpointID }
func (e ConnectionInitiated) Endpoint() string   { return e.EndpointID }
func (e ConnectionResult) Endpoint() string      { return e.EndpointID }
func (e Disconnected) Endpoint() string          { return e.EndpointID }
func (e PayloadReceived) Endpoint() string       { return e.EndpointID }
func (e PayloadTransferUpdate) Endpoint() string { return e.EndpointID }

// ---------------------------------------------------------------------------
// Callback capabilities
// ---------------------------------------------------------------------------

// DiscoveryCallback receives scan results.
type DiscoveryCallback interface {
	OnEndpointFound(ctx context.Context, endpointID string, info DiscoveredEndpointInfo)
	OnEndpointLost(endpointID string)
}

// LifecycleCallback receives connection lifecycle events.
type LifecycleCallback interface {
	OnConnectionInitiated(ctx context.Context, endpointID string, info ConnectionInfo)
	OnConnectionResult(ctx context.Context, endpointID string, status Status)
	OnDisconnected(endpointID string)
}

// PayloadCallback receives payloads and their transfer progress.
type PayloadCallback interface {
	OnPayloadReceived(endpointID string, p Payload)
	OnPayloadTransferUpdate(endpointID string, u TransferUpdate)
}
