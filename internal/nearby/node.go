package nearby

import "context"

// Options configures a Node. Zero values select the defaults noted per field.
type Options struct {
	ServiceID string        // default DefaultServiceID
	Strategy  Strategy      // default StrategyCluster
	Identity  LocalIdentity // default NewLocalIdentity()

	Accept             AcceptPolicy    // default AcceptAll
	PostConnect        PostConnectHook // default GreetingHook
	DisablePostConnect bool

	Retry    RetryPolicy // default single attempt
	Notifier Notifier    // default LogNotifier

	// OnText is called with every text payload received. May be nil.
	OnText func(endpointID, text string)
}

// Node wires the four components to one Transport and exposes the commands
// of the presentation layer. Events are consumed by Run.
type Node struct {
	tr       Transport
	notify   Notifier
	identity LocalIdentity

	dispatcher *PayloadDispatcher
	manager    *ConnectionManager
	discoverer *Discoverer
	advertiser *Advertiser
}

// NewNode creates a Node on top of tr.
func NewNode(tr Transport, opts Options) *Node {
	if opts.ServiceID == "" {
		opts.ServiceID = DefaultServiceID
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyCluster
	}
	if opts.Identity.Nickname == "" {
		opts.Identity = NewLocalIdentity()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	hook := opts.PostConnect
	if hook == nil {
		hook = GreetingHook
	}
	if opts.DisablePostConnect {
		hook = nil
	}

	d := NewPayloadDispatcher(tr, opts.Notifier, opts.OnText)
	m := NewConnectionManager(tr, d, opts.Notifier, opts.Accept, hook)

	return &Node{
		tr:         tr,
		notify:     opts.Notifier,
		identity:   opts.Identity,
		dispatcher: d,
		manager:    m,
		discoverer: NewDiscoverer(tr, m, opts.Notifier, opts.Identity, opts.ServiceID, opts.Strategy, opts.Retry),
		advertiser: NewAdvertiser(tr, m, opts.Notifier, opts.Identity, opts.ServiceID, opts.Strategy),
	}
}

func (n *Node) Identity() LocalIdentity          { return n.identity }
func (n *Node) Manager() *ConnectionManager      { return n.manager }
func (n *Node) Dispatcher() *PayloadDispatcher   { return n.dispatcher }
func (n *Node) Discoverer() *Discoverer          { return n.discoverer }
func (n *Node) Advertiser() *Advertiser          { return n.advertiser }

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// Run consumes transport events until ctx is cancelled or the transport
// closes its event channel. Events are handled one at a time in delivery
// order.
func (n *Node) Run(ctx context.Context) error {
	events := n.tr.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.dispatch(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch routes one event to the component that owns it.
func (n *Node) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case EndpointFound:
		n.discoverer.OnEndpointFound(ctx, ev.EndpointID, ev.Info)
	case EndpointLost:
		n.discoverer.OnEndpointLost(ev.EndpointID)
	case ConnectionInitiated:
		if ev.Info.Incoming {
			n.advertiser.OnConnectionInitiated(ctx, ev.EndpointID, ev.Info)
		} else {
			n.manager.OnConnectionInitiated(ctx, ev.EndpointID, ev.Info)
		}
	case ConnectionResult:
		n.manager.OnConnectionResult(ctx, ev.EndpointID, ev.Status)
	case Disconnected:
		n.manager.OnDisconnected(ev.EndpointID)
	case PayloadReceived:
		n.dispatcher.OnPayloadReceived(ev.EndpointID, ev.Payload)
	case PayloadTransferUpdate:
		n.dispatcher.OnPayloadTransferUpdate(ev.EndpointID, ev.Update)
	default:
		notifyf(n.notify, LevelDebug, "ignoring unknown event %T", ev)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (n *Node) StartAdvertising(ctx context.Context) error { return n.advertiser.Start(ctx) }
func (n *Node) StopAdvertising()                           { n.advertiser.Stop() }
func (n *Node) StartDiscovery(ctx context.Context) error   { return n.discoverer.Start(ctx) }
func (n *Node) StopDiscovery()                             { n.discoverer.Stop() }

// SendText sends text to the active endpoint. It fails with
// ErrNoActiveConnection when nothing is connected.
func (n *Node) SendText(ctx context.Context, text string) error {
	return n.manager.Send(ctx, text)
}

// Disconnect tears down the active connection, if any.
func (n *Node) Disconnect() {
	n.manager.Disconnect()
}

// Shutdown stops advertising and discovery and drops every endpoint. Late
// events that arrive afterwards are handled as stale.
func (n *Node) Shutdown() {
	n.advertiser.Stop()
	n.discoverer.Stop()
	n.tr.StopAllEndpoints()
	n.manager.Reset()
	notifyf(n.notify, LevelInfo, "stopped all endpoints")
}
