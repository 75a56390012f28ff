package testutil

import (
	"context"
	"sync"

	"researchEngine/internal/ports"
)

// Notifier records accepted notifications. A non-nil Err rejects them.
type Notifier struct {
	mu   sync.Mutex
	Sent []ports.Notification
	Err  error
}

func (n *Notifier) Notify(ctx context.Context, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, msg)
	return nil
}

// Events returns the event types sent so far, in order.
func (n *Notifier) Events() []ports.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ports.EventType, len(n.Sent))
	for i, m := range n.Sent {
		out[i] = m.EventType
	}
	return out
}
