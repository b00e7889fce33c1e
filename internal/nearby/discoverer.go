package nearby

import (
	"context"
	"sort"
	"sync"
)

// Discoverer scans for advertised identities and requests a connection to
// each one it finds.
type Discoverer struct {
	tr        Transport
	mgr       *ConnectionManager
	notify    Notifier
	identity  LocalIdentity
	serviceID string
	strategy  Strategy
	retry     RetryPolicy

	mu        sync.Mutex
	cancel    context.CancelFunc // non-nil while discovering
	sessCtx   context.Context
	endpoints map[string]Endpoint
	inflight  sync.WaitGroup
}

// NewDiscoverer creates an idle discoverer.
func NewDiscoverer(tr Transport, mgr *ConnectionManager, notify Notifier, identity LocalIdentity, serviceID string, strategy Strategy, retry RetryPolicy) *Discoverer {
	return &Discoverer{
		tr:        tr,
		mgr:       mgr,
		notify:    notify,
		identity:  identity,
		serviceID: serviceID,
		strategy:  strategy,
		retry:     retry,
		endpoints: make(map[string]Endpoint),
	}
}

// Start begins scanning. A failure, including starting twice, is reported
// as a *StartError and not retried.
func (d *Discoverer) Start(ctx context.Context) error {
	// The session must exist before the transport can report the first
	// endpoint, so it is opened up front and rolled back on failure.
	d.mu.Lock()
	var fresh context.Context
	if d.cancel == nil {
		d.sessCtx, d.cancel = context.WithCancel(context.Background())
		fresh = d.sessCtx
	}
	d.mu.Unlock()

	if err := d.tr.StartDiscovery(ctx, d.serviceID, d.strategy); err != nil {
		if fresh != nil {
			d.mu.Lock()
			if d.sessCtx == fresh {
				d.cancel()
				d.sessCtx, d.cancel = nil, nil
			}
			d.mu.Unlock()
		}
		serr := &StartError{Op: "discovery", Err: err}
		notifyf(d.notify, LevelError, "%v", serr)
		return serr
	}

	notifyf(d.notify, LevelSuccess, "discovery started (service %s)", d.serviceID)
	return nil
}

// Stop ends scanning and abandons pending connection requests. It is safe
// to call at any time.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.sessCtx = nil
	clear(d.endpoints)
	d.mu.Unlock()

	d.tr.StopDiscovery()
	if cancel != nil {
		cancel()
		notifyf(d.notify, LevelInfo, "discovery stopped")
	}
}

// Discovering reports whether a scan session is running.
func (d *Discoverer) Discovering() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Endpoints returns the currently discoverable endpoints ordered by ID.
func (d *Discoverer) Endpoints() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every in-flight connection request has finished.
func (d *Discoverer) Wait() {
	d.inflight.Wait()
}

// ---------------------------------------------------------------------------
// DiscoveryCallback
// ---------------------------------------------------------------------------

// OnEndpointFound records the endpoint and requests a connection to it in
// the background, unless a connection is already active.
func (d *Discoverer) OnEndpointFound(ctx context.Context, endpointID string, info DiscoveredEndpointInfo) {
	d.mu.Lock()
	d.endpoints[endpointID] = Endpoint{ID: endpointID, Name: info.EndpointName, ServiceID: info.ServiceID}
	sessCtx := d.sessCtx
	d.mu.Unlock()

	notifyf(d.notify, LevelInfo, "onEndpointFound: %s (%s)", endpointID, info.EndpointName)

	if sessCtx == nil {
		notifyf(d.notify, LevelDebug, "not requesting %s: discovery is stopped", endpointID)
		return
	}
	if d.mgr.Busy() {
		notifyf(d.notify, LevelInfo, "not requesting %s: %v", endpointID, ErrBusy)
		return
	}

	// The request outlives neither the caller's context nor the scan session.
	reqCtx, cancel := context.WithCancel(sessCtx)
	stop := context.AfterFunc(ctx, cancel)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer stop()
		defer cancel()
		d.request(reqCtx, endpointID)
	}()
}

// OnEndpointLost forgets the endpoint. Any connection to it is untouched.
func (d *Discoverer) OnEndpointLost(endpointID string) {
	d.mu.Lock()
	delete(d.endpoints, endpointID)
	d.mu.Unlock()

	notifyf(d.notify, LevelInfo, "onEndpointLost: %s", endpointID)
}

// request sends a connection request, retrying per the retry policy. The
// final failure is reported once.
func (d *Discoverer) request(ctx context.Context, endpointID string) {
	attempts := d.retry.attempts()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.tr.RequestConnection(ctx, d.identity.Nickname, endpointID)
		if err == nil {
			notifyf(d.notify, LevelInfo, "requested connection to %s", endpointID)
			return
		}
		if ctx.Err() != nil {
			notifyf(d.notify, LevelDebug, "request to %s abandoned: %v", endpointID, ctx.Err())
			return
		}
		if attempt < attempts {
			notifyf(d.notify, LevelDebug, "request to %s failed (attempt %d/%d): %v", endpointID, attempt, attempts, err)
			if !d.retry.wait(ctx, attempt) {
				notifyf(d.notify, LevelDebug, "request to %s abandoned: %v", endpointID, ctx.Err())
				return
			}
		}
	}

	notifyf(d.notify, LevelError, "%v", &RequestError{EndpointID: endpointID, Attempts: attempts, Err: err})
}
