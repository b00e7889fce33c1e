package nearby

import (
	"context"
	"fmt"
	"time"
)

// AcceptPolicy decides whether a connection proposal is accepted. It runs on
// the event loop and must not block.
type AcceptPolicy func(ep Endpoint, info ConnectionInfo) bool

// AcceptAll trusts every proposal. Suitable for demos and trusted networks only.
func AcceptAll(Endpoint, ConnectionInfo) bool { return true }

// RejectAll refuses every proposal.
func RejectAll(Endpoint, ConnectionInfo) bool { return false }

// PostConnectHook runs once right after a connection reaches Connected.
// Hooks report their own failures; the returned error is informational.
type PostConnectHook func(ctx context.Context, d *PayloadDispatcher, endpointID string) error

// Greeting is the text GreetingHook sends.
func Greeting(endpointID string) string {
	return fmt.Sprintf("Hello %s!", endpointID)
}

// GreetingHook sends "Hello <endpointID>!" to the newly connected endpoint.
func GreetingHook(ctx context.Context, d *PayloadDispatcher, endpointID string) error {
	return d.Send(ctx, endpointID, []byte(Greeting(endpointID)))
}

// RetryPolicy bounds connection request retries. The zero value means a
// single attempt with no retry.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	Backoff  time.Duration // wait before attempt n+1 is Backoff*n
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// wait blocks for the backoff after the given (1-based) failed attempt.
// It returns false if ctx is cancelled first.
func (p RetryPolicy) wait(ctx context.Context, attempt int) bool {
	if p.Backoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.Backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
