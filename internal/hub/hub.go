// Package hub runs the per-connection chat state machine: search, pairing,
// relay and teardown. A single mutex guards the matchmaking queue, the peer
// registry and every partner link, so pairing and unpairing are observed
// atomically by all other events. Outbound frames are queued per peer while
// the lock is held and written after it is released.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/randomchips/chat-app/internal/chat"
	"github.com/randomchips/chat-app/internal/matching"
	"github.com/randomchips/chat-app/internal/metrics"
	"github.com/randomchips/chat-app/internal/moderation"
	"github.com/randomchips/chat-app/internal/protocol"
	"github.com/randomchips/chat-app/internal/session"
)

// Transport delivers frames to live connections.
type Transport interface {
	SendMessage(connID string, data []byte) error
	// Disconnect closes the connection. The transport reports the closure
	// back through Leave.
	Disconnect(connID string)
	IsConnected(connID string) bool
}

// BanChecker answers whether an address may search.
type BanChecker interface {
	IsBanned(ctx context.Context, address string) (bool, error)
}

// Presence mirrors connection state for operators. Optional.
type Presence interface {
	Register(ctx context.Context, connID, addr, name string) error
	SetStatus(ctx context.Context, connID, status, partnerID, sessionID string) error
	Remove(ctx context.Context, connID string) error
}

// Config holds hub tuning parameters.
type Config struct {
	StoreTimeout time.Duration // bound on each Session Store / Ban Gate call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StoreTimeout: 3 * time.Second}
}

// Hub owns the queue and the peer registry.
type Hub struct {
	config    Config
	transport Transport
	bans      BanChecker
	store     chat.Store
	presence  Presence
	now       func() time.Time

	mu       sync.Mutex
	peers    map[string]*peer
	queue    *matching.Queue
	sessions int // number of live pairings
}

// New creates a Hub. presence may be nil.
func New(config Config, transport Transport, bans BanChecker, store chat.Store, presence Presence) *Hub {
	return &Hub{
		config:    config,
		transport: transport,
		bans:      bans,
		store:     store,
		presence:  presence,
		now:       time.Now,
		peers:     make(map[string]*peer),
		queue:     matching.NewQueue(),
	}
}

// SetRandomSource replaces the queue's random source. Intended for tests;
// call before any Join.
func (h *Hub) SetRandomSource(intn func(n int) int) {
	h.mu.Lock()
	h.queue = matching.NewQueueWithRand(intn)
	h.mu.Unlock()
}

// SetClock replaces the time source used for message timestamps.
func (h *Hub) SetClock(now func() time.Time) {
	h.now = now
}

// Join registers a newly connected client. The name is sanitized; the peer
// stays idle until it searches.
func (h *Hub) Join(connID, addr, name string) {
	p := &peer{
		id:        connID,
		addr:      addr,
		name:      moderation.SanitizeName(name),
		connected: true,
		transport: h.transport,
	}

	h.mu.Lock()
	h.peers[connID] = p
	metrics.ConnectionsTotal.Set(float64(len(h.peers)))
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := h.storeContext(context.Background())
		defer cancel()
		if err := h.presence.Register(ctx, connID, addr, p.name); err != nil {
			log.Printf("[hub] presence register %s: %v", connID, err)
		}
	}
	log.Printf("[hub] joined conn=%s addr=%s name=%s", connID, addr, p.name)
}

// Search gates the peer on the ban list and then pairs it with a random
// eligible waiting peer, or queues it.
func (h *Hub) Search(ctx context.Context, connID string) {
	h.mu.Lock()
	p, ok := h.peers[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if p.partnerID != "" {
		var o outbox
		o.push(p, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeAlreadyConnected,
			Message: "Already in a chat; use next to find a new partner",
		})
		h.mu.Unlock()
		h.flush(ctx, &o)
		return
	}
	addr := p.addr
	h.mu.Unlock()

	if h.isBanned(ctx, addr) {
		h.rejectBanned(ctx, p)
		return
	}

	var o outbox
	h.mu.Lock()
	h.searchLocked(ctx, p, &o)
	h.mu.Unlock()
	h.flush(ctx, &o)
}

// Message checks the sender has a partner, then validates text, persists
// it against the sender's session and relays it to the partner. A failed
// write is logged and the relay still happens; a partner that has gone away
// is skipped silently.
func (h *Hub) Message(ctx context.Context, connID, text string) {
	start := time.Now()

	h.mu.Lock()
	p, ok := h.peers[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if p.partnerID == "" {
		var o outbox
		o.push(p, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeNoActiveSession,
			Message: "No active chat session",
		})
		h.mu.Unlock()
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		h.flush(ctx, &o)
		return
	}
	sessionID, addr, partnerID := p.sessionID, p.addr, p.partnerID
	h.mu.Unlock()

	if err := chat.ValidateMessage(text); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		h.sendError(ctx, connID, protocol.CodeInvalidMessage, err.Error())
		return
	}

	sctx, cancel := h.storeContext(ctx)
	_, err := h.store.SaveMessage(sctx, sessionID, addr, text)
	cancel()
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("persist_failed").Inc()
		log.Printf("[hub] persist message session=%s from=%s: %v", sessionID, connID, err)
	}

	frame := protocol.ServerChatMsg{Text: text, Timestamp: h.now().UnixMilli()}

	var o outbox
	h.mu.Lock()
	if partner := h.linkedPartner(connID, partnerID); partner != nil {
		o.push(partner, protocol.TypeMessage, frame)
	}
	h.mu.Unlock()
	h.flush(ctx, &o)

	metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
}

// Typing relays a typing indicator to the partner. Unpaired peers are ignored.
func (h *Hub) Typing(ctx context.Context, connID string, typing bool) {
	msgType := protocol.TypePartnerStoppedTyping
	if typing {
		msgType = protocol.TypePartnerTyping
	}

	var o outbox
	h.mu.Lock()
	if p, ok := h.peers[connID]; ok && p.partnerID != "" {
		if partner := h.linkedPartner(connID, p.partnerID); partner != nil {
			o.push(partner, msgType, nil)
		}
	}
	h.mu.Unlock()
	h.flush(ctx, &o)
}

// Next ends the current chat, if any, and searches again.
func (h *Hub) Next(ctx context.Context, connID string) {
	var o outbox
	h.mu.Lock()
	p, ok := h.peers[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	ended := h.unpairLocked(p, &o)
	h.mu.Unlock()

	h.flush(ctx, &o)
	h.endSession(ctx, ended)
	h.Search(ctx, connID)
}

// Leave unregisters a disconnected peer, tearing down its chat if paired.
func (h *Hub) Leave(ctx context.Context, connID string) {
	var o outbox
	h.mu.Lock()
	p, ok := h.peers[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, connID)
	p.connected = false
	p.pending = nil
	h.queue.Remove(connID)
	ended := h.unpairLocked(p, &o)
	h.gaugesLocked()
	metrics.ConnectionsTotal.Set(float64(len(h.peers)))
	h.mu.Unlock()

	h.flush(ctx, &o)
	h.endSession(ctx, ended)

	if h.presence != nil {
		pctx, cancel := h.storeContext(ctx)
		defer cancel()
		if err := h.presence.Remove(pctx, connID); err != nil {
			log.Printf("[hub] presence remove %s: %v", connID, err)
		}
	}
	log.Printf("[hub] left conn=%s", connID)
}

// QueueSize returns the number of peers waiting for a partner.
func (h *Hub) QueueSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queue.Len()
}

// ActiveSessions returns the number of live pairings.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions
}

// Connections returns the number of registered peers.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ---------------------------------------------------------------------------
// Locked helpers. Callers hold h.mu.
// ---------------------------------------------------------------------------

// searchLocked emits searching and then pairs or queues p.
func (h *Hub) searchLocked(ctx context.Context, p *peer, o *outbox) {
	// p may have left or been paired by another searcher during the ban check.
	if !p.connected || p.partnerID != "" {
		return
	}

	o.push(p, protocol.TypeSearching, nil)

	match, _ := h.queue.FindMatch(p).(*peer)
	if match == nil {
		if !h.queue.Contains(p.id) {
			p.queuedAt = h.now()
		}
		h.queue.Add(p)
		o.status(p, session.StatusSearching)
		h.gaugesLocked()
		return
	}
	h.pairLocked(ctx, match, p, o)
}

// pairLocked creates the session row and links waiting and searcher. If the
// row cannot be created both go back to the tail of the queue.
func (h *Hub) pairLocked(ctx context.Context, waiting, searcher *peer, o *outbox) {
	sctx, cancel := h.storeContext(ctx)
	sessionID, err := h.store.CreateSession(sctx,
		chat.Participant{Addr: waiting.addr, Name: waiting.name},
		chat.Participant{Addr: searcher.addr, Name: searcher.name},
	)
	cancel()
	if err != nil {
		log.Printf("[hub] create session %s<->%s: %v (requeueing both)", waiting.id, searcher.id, err)
		metrics.PairingFailures.Inc()
		h.queue.Remove(searcher.id)
		if searcher.queuedAt.IsZero() {
			searcher.queuedAt = h.now()
		}
		h.queue.Add(waiting)
		h.queue.Add(searcher)
		o.status(waiting, session.StatusSearching)
		o.status(searcher, session.StatusSearching)
		h.gaugesLocked()
		return
	}

	h.queue.Remove(searcher.id)
	if !waiting.queuedAt.IsZero() {
		metrics.MatchDuration.Observe(h.now().Sub(waiting.queuedAt).Seconds())
	}

	waiting.partnerID, waiting.sessionID = searcher.id, sessionID
	searcher.partnerID, searcher.sessionID = waiting.id, sessionID
	waiting.queuedAt, searcher.queuedAt = time.Time{}, time.Time{}
	h.sessions++

	o.push(waiting, protocol.TypeConnected, protocol.ConnectedMsg{PartnerName: searcher.name, SessionID: sessionID})
	o.push(searcher, protocol.TypeConnected, protocol.ConnectedMsg{PartnerName: waiting.name, SessionID: sessionID})
	o.linked(waiting, searcher, sessionID)
	h.gaugesLocked()

	log.Printf("[hub] paired %s <-> %s session=%s", waiting.id, searcher.id, sessionID)
}

// unpairLocked clears p's links and, when the partner still points back at
// p, the partner's links too, notifying it. Returns the ended session id.
func (h *Hub) unpairLocked(p *peer, o *outbox) string {
	if p.partnerID == "" {
		return ""
	}
	sessionID := p.sessionID

	if partner := h.linkedPartner(p.id, p.partnerID); partner != nil {
		partner.partnerID, partner.sessionID = "", ""
		o.push(partner, protocol.TypePartnerDisconnected, nil)
		o.status(partner, session.StatusIdle)
	}
	p.partnerID, p.sessionID = "", ""
	o.status(p, session.StatusIdle)

	h.sessions--
	h.gaugesLocked()
	return sessionID
}

// linkedPartner returns the registered partner only if it links back to connID.
func (h *Hub) linkedPartner(connID, partnerID string) *peer {
	partner, ok := h.peers[partnerID]
	if !ok || partner.partnerID != connID {
		return nil
	}
	return partner
}

func (h *Hub) gaugesLocked() {
	metrics.QueueSize.Set(float64(h.queue.Len()))
	metrics.ActiveSessions.Set(float64(h.sessions))
}

// ---------------------------------------------------------------------------
// Unlocked helpers
// ---------------------------------------------------------------------------

// isBanned fails open: a Ban Gate error lets the peer search.
func (h *Hub) isBanned(ctx context.Context, addr string) bool {
	bctx, cancel := h.storeContext(ctx)
	defer cancel()
	banned, err := h.bans.IsBanned(bctx, addr)
	if err != nil {
		log.Printf("[hub] ban check %s: %v (allowing)", addr, err)
		return false
	}
	return banned
}

// rejectBanned sends the ban notice and then closes the connection.
func (h *Hub) rejectBanned(ctx context.Context, p *peer) {
	var o outbox
	h.mu.Lock()
	h.queue.Remove(p.id)
	if p.connected {
		o.push(p, protocol.TypeBanned, protocol.BannedMsg{Message: protocol.BannedText})
	}
	h.gaugesLocked()
	h.mu.Unlock()

	h.flush(ctx, &o)
	metrics.BansTotal.WithLabelValues("search").Inc()
	log.Printf("[hub] rejected banned addr=%s conn=%s", p.addr, p.id)
	h.transport.Disconnect(p.id)
}

func (h *Hub) sendError(ctx context.Context, connID, code, message string) {
	var o outbox
	h.mu.Lock()
	if p, ok := h.peers[connID]; ok {
		o.push(p, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	}
	h.mu.Unlock()
	h.flush(ctx, &o)
}

func (h *Hub) endSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	sctx, cancel := h.storeContext(ctx)
	defer cancel()
	if err := h.store.EndSession(sctx, sessionID); err != nil {
		log.Printf("[hub] end session %s: %v", sessionID, err)
	}
}

func (h *Hub) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.config.StoreTimeout)
}
