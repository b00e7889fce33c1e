package nearby

import (
	"context"
	"sync"
)

// Advertiser makes the local identity discoverable. It has no accept logic
// of its own: inbound proposals go straight to the ConnectionManager.
type Advertiser struct {
	tr        Transport
	mgr       *ConnectionManager
	notify    Notifier
	identity  LocalIdentity
	serviceID string
	strategy  Strategy

	mu          sync.Mutex
	advertising bool
}

// NewAdvertiser creates an idle advertiser.
func NewAdvertiser(tr Transport, mgr *ConnectionManager, notify Notifier, identity LocalIdentity, serviceID string, strategy Strategy) *Advertiser {
	return &Advertiser{
		tr:        tr,
		mgr:       mgr,
		notify:    notify,
		identity:  identity,
		serviceID: serviceID,
		strategy:  strategy,
	}
}

// Start registers the local identity under the service ID. A failure,
// including starting twice, is reported as a *StartError and not retried.
func (a *Advertiser) Start(ctx context.Context) error {
	if err := a.tr.StartAdvertising(ctx, a.identity.Nickname, a.serviceID, a.strategy); err != nil {
		serr := &StartError{Op: "advertising", Err: err}
		notifyf(a.notify, LevelError, "%v", serr)
		return serr
	}

	a.mu.Lock()
	a.advertising = true
	a.mu.Unlock()

	notifyf(a.notify, LevelSuccess, "advertising started as %s (service %s)", a.identity.Nickname, a.serviceID)
	return nil
}

// Stop withdraws the identity. It is safe to call when not advertising.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	was := a.advertising
	a.advertising = false
	a.mu.Unlock()

	a.tr.StopAdvertising()
	if was {
		notifyf(a.notify, LevelInfo, "advertising stopped")
	}
}

// Advertising reports whether the identity is currently advertised.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising
}

// OnConnectionInitiated hands an inbound proposal to the manager.
func (a *Advertiser) OnConnectionInitiated(ctx context.Context, endpointID string, info ConnectionInfo) {
	a.mgr.OnConnectionInitiated(ctx, endpointID, info)
}
