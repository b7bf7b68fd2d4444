package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/randomchips/chat-app/internal/protocol"
	"github.com/randomchips/chat-app/internal/session"
)

// peer is the domain record of one connection. Every field except sendMu is
// guarded by Hub.mu.
type peer struct {
	id        string
	addr      string
	name      string
	partnerID string
	sessionID string
	connected bool
	queuedAt  time.Time

	transport Transport
	pending   []frame
	sendMu    sync.Mutex // held while draining pending to the transport
}

func (p *peer) ID() string        { return p.id }
func (p *peer) PartnerID() string { return p.partnerID }

// Connected reports whether the peer is registered and its transport
// connection is still open.
func (p *peer) Connected() bool {
	return p.connected && p.transport.IsConnected(p.id)
}

type frame struct {
	msgType string
	payload interface{}
}

type statusUpdate struct {
	connID    string
	status    string
	partnerID string
	sessionID string
}

// outbox collects the effects of one critical section. push and status are
// called with Hub.mu held; flush runs after it is released.
type outbox struct {
	touched []*peer
	updates []statusUpdate
}

func (o *outbox) push(p *peer, msgType string, payload interface{}) {
	p.pending = append(p.pending, frame{msgType: msgType, payload: payload})
	for _, t := range o.touched {
		if t == p {
			return
		}
	}
	o.touched = append(o.touched, p)
}

func (o *outbox) status(p *peer, status string) {
	o.updates = append(o.updates, statusUpdate{connID: p.id, status: status})
}

func (o *outbox) linked(a, b *peer, sessionID string) {
	o.updates = append(o.updates,
		statusUpdate{connID: a.id, status: session.StatusConnected, partnerID: b.id, sessionID: sessionID},
		statusUpdate{connID: b.id, status: session.StatusConnected, partnerID: a.id, sessionID: sessionID},
	)
}

// flush delivers the frames queued on every touched peer and then mirrors
// status changes to presence.
func (h *Hub) flush(ctx context.Context, o *outbox) {
	for _, p := range o.touched {
		h.deliver(p)
	}

	if h.presence == nil || len(o.updates) == 0 {
		return
	}
	pctx, cancel := h.storeContext(ctx)
	defer cancel()
	for _, u := range o.updates {
		if err := h.presence.SetStatus(pctx, u.connID, u.status, u.partnerID, u.sessionID); err != nil {
			log.Printf("[hub] presence %s -> %s: %v", u.connID, u.status, err)
		}
	}
}

// deliver drains p.pending in order. Frames are taken under Hub.mu in the
// order they were queued and written under p.sendMu, so a peer never sees
// frames out of order even when several goroutines flush to it.
func (h *Hub) deliver(p *peer) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for {
		h.mu.Lock()
		batch := p.pending
		p.pending = nil
		h.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, f := range batch {
			data, err := protocol.NewServerMessage(f.msgType, f.payload)
			if err != nil {
				log.Printf("[hub] encode %s for %s: %v", f.msgType, p.id, err)
				continue
			}
			if err := h.transport.SendMessage(p.id, data); err != nil {
				log.Printf("[hub] send %s to %s: %v", f.msgType, p.id, err)
			}
		}
	}
}
