package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nearby/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing frame channel capacity
)

// sender serializes all writes to one DataChannel. Frames queued before the
// channel opens are held until it does.
type sender struct {
	endpointID  string
	inbox       chan []byte
	drainSignal chan struct{}
}

// newSender wires the backpressure callbacks on dc and starts the loop,
// which exits when ctx is cancelled.
func newSender(ctx context.Context, endpointID string, dc *webrtc.DataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		endpointID:  endpointID,
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case frame := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(frame); err != nil {
				util.LogError("[transport] failed to send frame to %s: %v", s.endpointID, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a frame. It blocks while the inbox is full.
func (s *sender) send(ctx context.Context, linkCtx context.Context, frame []byte) error {
	select {
	case s.inbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-linkCtx.Done():
		return errLinkClosed
	}
}
