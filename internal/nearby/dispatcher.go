package nearby

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/1ureka/nearby/internal/util"
)

// Transfer is the progress record of one File or Stream payload.
type Transfer struct {
	PayloadID        int64
	EndpointID       string
	Kind             PayloadKind
	Status           TransferStatus
	BytesTransferred int64
	TotalBytes       int64
}

// PayloadDispatcher classifies payloads by kind and moves them between the
// transport and the presentation layer. It holds no connection state; the
// caller names the endpoint.
type PayloadDispatcher struct {
	tr     Transport
	notify Notifier
	onText func(endpointID, text string)
	ids    *payloadIDGen

	mu        sync.Mutex
	transfers map[int64]*Transfer // payloadID → in-flight File/Stream transfer
}

// NewPayloadDispatcher creates a dispatcher. onText may be nil.
func NewPayloadDispatcher(tr Transport, notify Notifier, onText func(endpointID, text string)) *PayloadDispatcher {
	return &PayloadDispatcher{
		tr:        tr,
		notify:    notify,
		onText:    onText,
		ids:       newPayloadIDGen(),
		transfers: make(map[int64]*Transfer),
	}
}

// Send wraps data as a Bytes payload and hands it to the transport.
func (d *PayloadDispatcher) Send(ctx context.Context, endpointID string, data []byte) error {
	if endpointID == "" {
		notifyf(d.notify, LevelError, "cannot send payload: %v", ErrNoActiveConnection)
		return ErrNoActiveConnection
	}

	p := Payload{ID: d.ids.Next(), Kind: KindBytes, Bytes: data, Size: int64(len(data))}
	if err := d.tr.SendPayload(ctx, endpointID, p); err != nil {
		notifyf(d.notify, LevelError, "failed to send payload %d to %s: %v", p.ID, endpointID, err)
		return fmt.Errorf("send payload to %s: %w", endpointID, err)
	}

	util.Stats.AddSent(len(data))
	notifyf(d.notify, LevelDebug, "sent payload %d (%d bytes) to %s", p.ID, len(data), endpointID)
	return nil
}

// ---------------------------------------------------------------------------
// PayloadCallback
// ---------------------------------------------------------------------------

// OnPayloadReceived surfaces Bytes payloads as UTF-8 text. File and Stream
// payloads are acknowledged and tracked until their transfer finishes.
func (d *PayloadDispatcher) OnPayloadReceived(endpointID string, p Payload) {
	util.Stats.AddRecv(len(p.Bytes))

	switch p.Kind {
	case KindBytes:
		text := string(p.Bytes)
		if !utf8.ValidString(text) {
			notifyf(d.notify, LevelWarning, "payload %d from %s is not valid UTF-8", p.ID, endpointID)
		}
		notifyf(d.notify, LevelInfo, "onPayloadReceived: %s, %s", endpointID, text)
		if d.onText != nil {
			d.onText(endpointID, text)
		}

	case KindFile, KindStream:
		d.mu.Lock()
		d.transfers[p.ID] = &Transfer{
			PayloadID:  p.ID,
			EndpointID: endpointID,
			Kind:       p.Kind,
			Status:     TransferInProgress,
			TotalBytes: p.Size,
		}
		d.mu.Unlock()
		notifyf(d.notify, LevelInfo, "onPayloadReceived: %s, %s payload %d (body not handled)", endpointID, p.Kind, p.ID)

	default:
		notifyf(d.notify, LevelWarning, "dropping payload %d from %s: unsupported %s", p.ID, endpointID, p.Kind)
	}
}

// OnPayloadTransferUpdate records progress for tracked transfers. Bytes
// payloads complete together with their receipt, so updates for them are
// ignored.
func (d *PayloadDispatcher) OnPayloadTransferUpdate(endpointID string, u TransferUpdate) {
	d.mu.Lock()
	t, ok := d.transfers[u.PayloadID]
	if !ok {
		d.mu.Unlock()
		return
	}
	t.Status = u.Status
	t.BytesTransferred = u.BytesTransferred
	if u.TotalBytes > 0 {
		t.TotalBytes = u.TotalBytes
	}
	snapshot := *t
	if u.Status.Done() {
		delete(d.transfers, u.PayloadID)
	}
	d.mu.Unlock()

	switch snapshot.Status {
	case TransferInProgress:
		notifyf(d.notify, LevelDebug, "%s payload %d from %s: %d/%d bytes",
			snapshot.Kind, snapshot.PayloadID, endpointID, snapshot.BytesTransferred, snapshot.TotalBytes)
	case TransferSuccess:
		notifyf(d.notify, LevelSuccess, "%s payload %d from %s complete (%d bytes)",
			snapshot.Kind, snapshot.PayloadID, endpointID, snapshot.BytesTransferred)
	default:
		notifyf(d.notify, LevelWarning, "%s payload %d from %s ended: %s",
			snapshot.Kind, snapshot.PayloadID, endpointID, snapshot.Status)
	}
}

// Transfers returns the in-flight transfers ordered by payload ID.
func (d *PayloadDispatcher) Transfers() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Transfer, 0, len(d.transfers))
	for _, t := range d.transfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayloadID < out[j].PayloadID })
	return out
}

// forget drops every transfer belonging to endpointID. Called when the
// endpoint disconnects so half-finished transfers do not linger.
func (d *PayloadDispatcher) forget(endpointID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.transfers {
		if t.EndpointID == endpointID {
			delete(d.transfers, id)
		}
	}
}
