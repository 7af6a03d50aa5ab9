package transport

import (
	"context"
	"sync"

	"YoloObbNode/msg"
)

// Inbox is a depth-one mailbox between the subscription callback and the
// processing loop. A frame arriving while a cycle is in progress replaces
// the pending one, so the consumer only ever sees the most recent
// notification and backlog never builds up.
type Inbox struct {
	mu      sync.Mutex
	pending *msg.CompressedImage
	dropped uint64
	notify  chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Put stores frame as the pending notification, overwriting any frame the
// consumer has not taken yet. It reports whether a pending frame was
// replaced.
func (in *Inbox) Put(frame msg.CompressedImage) bool {
	in.mu.Lock()
	replaced := in.pending != nil
	if replaced {
		in.dropped++
	}
	in.pending = &frame
	in.mu.Unlock()
	select {
	case in.notify <- struct{}{}:
	default:
	}
	return replaced
}

// Next blocks until a frame is pending or ctx is done. The second return
// value is false only when the context ended.
func (in *Inbox) Next(ctx context.Context) (msg.CompressedImage, bool) {
	for {
		in.mu.Lock()
		if f := in.pending; f != nil {
			in.pending = nil
			in.mu.Unlock()
			return *f, true
		}
		in.mu.Unlock()

		select {
		case <-ctx.Done():
			return msg.CompressedImage{}, false
		case <-in.notify:
		}
	}
}

// Dropped reports how many pending frames were overwritten before the
// consumer took them.
func (in *Inbox) Dropped() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
