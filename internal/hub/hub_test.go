package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/randomchips/chat-app/internal/ban"
	"github.com/randomchips/chat-app/internal/chat"
	"github.com/randomchips/chat-app/internal/protocol"
	"github.com/randomchips/chat-app/internal/session"
)

var (
	_ BanChecker = (*ban.Gate)(nil)
	_ Presence   = (*session.Store)(nil)
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTransport struct {
	mu           sync.Mutex
	live         map[string]bool
	frames       map[string][]map[string]interface{}
	disconnected []string
	onDisconnect func(connID string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		live:   make(map[string]bool),
		frames: make(map[string][]map[string]interface{}),
	}
}

func (t *fakeTransport) open(id string) {
	t.mu.Lock()
	t.live[id] = true
	t.mu.Unlock()
}

func (t *fakeTransport) drop(id string) {
	t.mu.Lock()
	t.live[id] = false
	t.mu.Unlock()
}

func (t *fakeTransport) SendMessage(connID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live[connID] {
		return fmt.Errorf("connection %s not found", connID)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.frames[connID] = append(t.frames[connID], m)
	return nil
}

func (t *fakeTransport) Disconnect(connID string) {
	t.mu.Lock()
	t.live[connID] = false
	t.disconnected = append(t.disconnected, connID)
	hook := t.onDisconnect
	t.mu.Unlock()
	if hook != nil {
		hook(connID)
	}
}

func (t *fakeTransport) IsConnected(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[connID]
}

func (t *fakeTransport) types(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, f := range t.frames[connID] {
		out = append(out, f["type"].(string))
	}
	return out
}

func (t *fakeTransport) last(connID string) map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs := t.frames[connID]
	if len(fs) == 0 {
		return nil
	}
	return fs[len(fs)-1]
}

func (t *fakeTransport) ofType(connID, msgType string) []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []map[string]interface{}
	for _, f := range t.frames[connID] {
		if f["type"] == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (t *fakeTransport) reset(connID string) {
	t.mu.Lock()
	t.frames[connID] = nil
	t.mu.Unlock()
}

type fakeBans struct {
	mu     sync.Mutex
	banned map[string]bool
	err    error
}

func (b *fakeBans) IsBanned(_ context.Context, addr string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	return b.banned[addr], nil
}

// flakyStore wraps a MemoryStore and can fail selected calls.
type flakyStore struct {
	*chat.MemoryStore
	failCreate bool
	failSave   bool
}

func (s *flakyStore) CreateSession(ctx context.Context, a, b chat.Participant) (string, error) {
	if s.failCreate {
		return "", errors.New("db down")
	}
	return s.MemoryStore.CreateSession(ctx, a, b)
}

func (s *flakyStore) SaveMessage(ctx context.Context, sessionID, senderAddr, text string) (string, error) {
	if s.failSave {
		return "", errors.New("db down")
	}
	return s.MemoryStore.SaveMessage(ctx, sessionID, senderAddr, text)
}

type fakePresence struct {
	mu      sync.Mutex
	status  map[string]string
	removed map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{status: make(map[string]string), removed: make(map[string]bool)}
}

func (p *fakePresence) Register(_ context.Context, connID, _, _ string) error {
	p.mu.Lock()
	p.status[connID] = session.StatusIdle
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) SetStatus(_ context.Context, connID, status, _, _ string) error {
	p.mu.Lock()
	p.status[connID] = status
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) Remove(_ context.Context, connID string) error {
	p.mu.Lock()
	p.removed[connID] = true
	delete(p.status, connID)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) get(connID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status[connID]
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	hub       *Hub
	transport *fakeTransport
	bans      *fakeBans
	store     *flakyStore
	presence  *fakePresence
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: newFakeTransport(),
		bans:      &fakeBans{banned: make(map[string]bool)},
		store:     &flakyStore{MemoryStore: chat.NewMemoryStore()},
		presence:  newFakePresence(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.hub = New(DefaultConfig(), f.transport, f.bans, f.store, f.presence)
	f.hub.SetClock(func() time.Time { return f.now })
	f.transport.onDisconnect = func(id string) { f.hub.Leave(context.Background(), id) }
	return f
}

func (f *fixture) join(id, addr, name string) {
	f.transport.open(id)
	f.hub.Join(id, addr, name)
}

// pair joins a and b and pairs them, returning the session id.
func (f *fixture) pair(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	f.join("a", "1.1.1.1", "Alice")
	f.join("b", "2.2.2.2", "Bob")
	f.hub.Search(ctx, "a")
	f.hub.Search(ctx, "b")

	pa, pb := f.hub.peers["a"], f.hub.peers["b"]
	if pa.partnerID != "b" || pb.partnerID != "a" {
		t.Fatalf("pairing failed: a->%q b->%q", pa.partnerID, pb.partnerID)
	}
	return pa.sessionID
}

func equalTypes(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Search and pairing
// ---------------------------------------------------------------------------

func TestSearch_TwoPeersPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join("a", "1.1.1.1", "Alice")
	f.join("b", "2.2.2.2", "Bob")

	f.hub.Search(ctx, "a")
	if f.hub.QueueSize() != 1 {
		t.Fatalf("expected a queued, queue size %d", f.hub.QueueSize())
	}
	if got := f.transport.types("a"); !equalTypes(got, protocol.TypeSearching) {
		t.Fatalf("a frames = %v", got)
	}

	f.hub.Search(ctx, "b")

	pa, pb := f.hub.peers["a"], f.hub.peers["b"]
	if pa.partnerID != "b" || pb.partnerID != "a" {
		t.Errorf("asymmetric links: a->%q b->%q", pa.partnerID, pb.partnerID)
	}
	if pa.sessionID == "" || pa.sessionID != pb.sessionID {
		t.Errorf("session ids differ: %q vs %q", pa.sessionID, pb.sessionID)
	}
	if f.hub.QueueSize() != 0 {
		t.Errorf("expected empty queue, got %d", f.hub.QueueSize())
	}
	if f.hub.ActiveSessions() != 1 {
		t.Errorf("expected 1 active session, got %d", f.hub.ActiveSessions())
	}

	ca := f.transport.last("a")
	if ca["type"] != protocol.TypeConnected || ca["partner_name"] != "Bob" || ca["session_id"] != pa.sessionID {
		t.Errorf("a connected frame = %v", ca)
	}
	cb := f.transport.last("b")
	if cb["type"] != protocol.TypeConnected || cb["partner_name"] != "Alice" || cb["session_id"] != pa.sessionID {
		t.Errorf("b connected frame = %v", cb)
	}
	if got := f.transport.types("b"); !equalTypes(got, protocol.TypeSearching, protocol.TypeConnected) {
		t.Errorf("b frames = %v", got)
	}

	sess, _ := f.store.GetSession(ctx, pa.sessionID)
	if sess == nil {
		t.Fatal("session row not created")
	}
	if sess.User1Addr != "1.1.1.1" || sess.User2Addr != "2.2.2.2" || sess.User1Name != "Alice" || sess.User2Name != "Bob" {
		t.Errorf("unexpected session row: %+v", sess)
	}

	if f.presence.get("a") != session.StatusConnected || f.presence.get("b") != session.StatusConnected {
		t.Errorf("presence a=%q b=%q", f.presence.get("a"), f.presence.get("b"))
	}
}

func TestSearch_UnknownPeerIgnored(t *testing.T) {
	f := newFixture(t)
	f.hub.Search(context.Background(), "ghost")
	if f.hub.QueueSize() != 0 {
		t.Error("unknown peer was queued")
	}
}

func TestSearch_WhilePairedIsRejected(t *testing.T) {
	f := newFixture(t)
	sid := f.pair(t)

	f.hub.Search(context.Background(), "a")

	last := f.transport.last("a")
	if last["type"] != protocol.TypeError || last["code"] != protocol.CodeAlreadyConnected {
		t.Errorf("expected already_connected error, got %v", last)
	}
	if f.hub.peers["a"].sessionID != sid || f.hub.peers["b"].partnerID != "a" {
		t.Error("search while paired changed links")
	}
}

func TestSearch_Twice_QueuedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join("a", "1.1.1.1", "")

	f.hub.Search(ctx, "a")
	f.hub.Search(ctx, "a")

	if f.hub.QueueSize() != 1 {
		t.Errorf("expected a queued once, got %d", f.hub.QueueSize())
	}
}

func TestSearch_BannedIsDisconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bans.banned["6.6.6.6"] = true
	f.join("x", "6.6.6.6", "")

	f.hub.Search(ctx, "x")

	if got := f.transport.types("x"); !equalTypes(got, protocol.TypeBanned) {
		t.Fatalf("x frames = %v", got)
	}
	if msg := f.transport.last("x")["message"]; msg != protocol.BannedText {
		t.Errorf("banned message = %v", msg)
	}
	if len(f.transport.disconnected) != 1 || f.transport.disconnected[0] != "x" {
		t.Errorf("expected x disconnected, got %v", f.transport.disconnected)
	}
	if f.hub.QueueSize() != 0 {
		t.Error("banned peer was queued")
	}
	if f.hub.Connections() != 0 {
		t.Error("banned peer still registered after disconnect")
	}
}

func TestSearch_BanCheckFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.bans.err = errors.New("db down")
	f.join("a", "1.1.1.1", "")

	f.hub.Search(context.Background(), "a")

	if f.hub.QueueSize() != 1 {
		t.Error("expected peer queued when the ban check errors")
	}
}

func TestSearch_CreateFailureRequeuesBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failCreate = true
	f.join("a", "1.1.1.1", "")
	f.join("b", "2.2.2.2", "")

	f.hub.Search(ctx, "a")
	f.hub.Search(ctx, "b")

	if f.hub.peers["a"].partnerID != "" || f.hub.peers["b"].partnerID != "" {
		t.Fatal("peers linked despite session create failure")
	}
	ids := f.hub.queue.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("expected queue [a b], got %v", ids)
	}
	if len(f.transport.ofType("a", protocol.TypeConnected)) != 0 {
		t.Error("connected emitted despite failure")
	}

	// Once the store recovers the next searcher pairs with one of them.
	f.store.failCreate = false
	f.join("c", "3.3.3.3", "")
	f.hub.Search(ctx, "c")
	if f.hub.peers["c"].partnerID == "" {
		t.Error("expected c to pair after recovery")
	}
}

func TestSearch_SkipsDeadQueuedPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join("a", "1.1.1.1", "")
	f.join("b", "2.2.2.2", "")

	f.hub.Search(ctx, "a")
	f.transport.drop("a") // closed but not yet reported through Leave
	f.hub.Search(ctx, "b")

	if f.hub.peers["b"].partnerID != "" {
		t.Error("paired with a dead connection")
	}
	if f.hub.QueueSize() != 2 {
		t.Errorf("expected both queued, got %d", f.hub.QueueSize())
	}
}

func TestSearch_RandomSourceChoosesCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hub.SetRandomSource(func(n int) int { return n - 1 })

	for _, id := range []string{"a", "b", "c"} {
		f.join(id, id, "")
	}
	// Queue a and b without pairing them to each other.
	f.hub.Search(ctx, "a")
	f.transport.drop("a")
	f.hub.Search(ctx, "b")
	f.transport.open("a")

	f.hub.Search(ctx, "c")
	if got := f.hub.peers["c"].partnerID; got != "b" {
		t.Errorf("expected stubbed source to pick the last candidate b, got %q", got)
	}
}

func TestJoin_SanitizesName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join("a", "1.1.1.1", "mom")
	f.join("b", "2.2.2.2", "  Bob  ")

	f.hub.Search(ctx, "a")
	f.hub.Search(ctx, "b")

	if got := f.transport.last("b")["partner_name"]; got != "RandomChip" {
		t.Errorf("b sees partner name %v, want RandomChip", got)
	}
	if got := f.transport.last("a")["partner_name"]; got != "Bob" {
		t.Errorf("a sees partner name %v, want Bob", got)
	}
}

// ---------------------------------------------------------------------------
// Messages and typing
// ---------------------------------------------------------------------------

func TestMessage_Unpaired(t *testing.T) {
	f := newFixture(t)
	f.join("a", "1.1.1.1", "")

	// The missing session is reported even when the text is also invalid.
	for _, text := range []string{"hello", "", "   ", "\xff"} {
		f.transport.reset("a")
		f.hub.Message(context.Background(), "a", text)

		last := f.transport.last("a")
		if last["type"] != protocol.TypeError || last["code"] != protocol.CodeNoActiveSession {
			t.Errorf("Message(%q): expected no_active_session error, got %v", text, last)
		}
	}
}

func TestMessage_PersistsAndRelays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.pair(t)

	f.hub.Message(ctx, "a", "hello")

	msgs, _ := f.store.ListMessages(ctx, sid)
	if len(msgs) != 1 || msgs[0].SenderAddr != "1.1.1.1" || msgs[0].Text != "hello" {
		t.Fatalf("unexpected stored messages: %+v", msgs)
	}

	last := f.transport.last("b")
	if last["type"] != protocol.TypeMessage || last["text"] != "hello" {
		t.Errorf("b got %v", last)
	}
	if ts, _ := last["timestamp"].(float64); int64(ts) != f.now.UnixMilli() {
		t.Errorf("timestamp = %v, want %d", last["timestamp"], f.now.UnixMilli())
	}
	if len(f.transport.ofType("a", protocol.TypeMessage)) != 0 {
		t.Error("message echoed to sender")
	}
}

func TestMessage_RelayOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pair(t)

	for _, text := range []string{"m1", "m2", "m3"} {
		f.hub.Message(ctx, "a", text)
	}

	got := f.transport.ofType("b", protocol.TypeMessage)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i]["text"] != want {
			t.Errorf("message %d = %v, want %s", i, got[i]["text"], want)
		}
	}
}

func TestMessage_PersistedWhenPartnerUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.pair(t)
	f.transport.drop("b")

	f.hub.Message(ctx, "a", "anyone there?")

	if n := f.store.MessageCount(sid); n != 1 {
		t.Errorf("expected 1 stored message, got %d", n)
	}
	if len(f.transport.ofType("a", protocol.TypeError)) != 0 {
		t.Error("lookup miss surfaced to sender")
	}
}

func TestMessage_PersistFailureStillRelays(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	f.store.failSave = true

	f.hub.Message(context.Background(), "a", "hello")

	if last := f.transport.last("b"); last["type"] != protocol.TypeMessage {
		t.Errorf("expected relay despite persist failure, got %v", last)
	}
}

func TestMessage_InvalidText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.pair(t)

	for _, text := range []string{"", string(make([]rune, 2001)), "\xff"} {
		f.transport.reset("a")
		f.hub.Message(ctx, "a", text)
		last := f.transport.last("a")
		if last == nil || last["code"] != protocol.CodeInvalidMessage {
			t.Errorf("Message(%q): expected invalid_message, got %v", text, last)
		}
	}
	if n := f.store.MessageCount(sid); n != 0 {
		t.Errorf("expected nothing persisted, got %d", n)
	}
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pair(t)
	f.transport.reset("b")

	f.hub.Typing(ctx, "a", true)
	f.hub.Typing(ctx, "a", false)

	if got := f.transport.types("b"); !equalTypes(got, protocol.TypePartnerTyping, protocol.TypePartnerStoppedTyping) {
		t.Errorf("b frames = %v", got)
	}
}

func TestTyping_UnpairedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.join("a", "1.1.1.1", "")

	f.hub.Typing(context.Background(), "a", true)

	if got := f.transport.types("a"); len(got) != 0 {
		t.Errorf("expected no frames, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func TestNext_TearsDownAndSearches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.pair(t)
	f.transport.reset("a")
	f.transport.reset("b")

	f.hub.Next(ctx, "a")

	pa, pb := f.hub.peers["a"], f.hub.peers["b"]
	if pb.partnerID != "" || pb.sessionID != "" {
		t.Errorf("b links not cleared: %q %q", pb.partnerID, pb.sessionID)
	}
	if pa.partnerID != "" || pa.sessionID != "" {
		t.Errorf("a links not cleared: %q %q", pa.partnerID, pa.sessionID)
	}
	if got := f.transport.types("b"); !equalTypes(got, protocol.TypePartnerDisconnected) {
		t.Errorf("b frames = %v", got)
	}
	if got := f.transport.types("a"); !equalTypes(got, protocol.TypeSearching) {
		t.Errorf("a frames = %v", got)
	}
	if !f.hub.queue.Contains("a") || f.hub.queue.Contains("b") {
		t.Errorf("expected only a queued, got %v", f.hub.queue.IDs())
	}
	if f.hub.ActiveSessions() != 0 {
		t.Errorf("expected 0 active sessions, got %d", f.hub.ActiveSessions())
	}

	sess, _ := f.store.GetSession(ctx, sid)
	if sess == nil || !sess.Ended() {
		t.Error("expected session ended")
	}

	// b can search again and finds a.
	f.hub.Search(ctx, "b")
	if pb.partnerID != "a" {
		t.Errorf("expected b to re-pair with a, got %q", pb.partnerID)
	}
	if pb.sessionID == sid {
		t.Error("re-pairing reused the ended session")
	}
}

func TestNext_PairsWithWaitingPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pair(t)
	f.join("c", "3.3.3.3", "Carol")
	f.hub.Search(ctx, "c")

	f.hub.Next(ctx, "a")

	if got := f.hub.peers["a"].partnerID; got != "c" {
		t.Errorf("expected a paired with c, got %q", got)
	}
	if got := f.transport.last("a")["partner_name"]; got != "Carol" {
		t.Errorf("a partner_name = %v", got)
	}
}

func TestNext_Unpaired(t *testing.T) {
	f := newFixture(t)
	f.join("a", "1.1.1.1", "")

	f.hub.Next(context.Background(), "a")

	if !f.hub.queue.Contains("a") {
		t.Error("expected next without partner to search")
	}
}

func TestLeave_WhilePaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.pair(t)

	f.hub.Leave(ctx, "a")

	if _, ok := f.hub.peers["a"]; ok {
		t.Error("a still registered")
	}
	pb := f.hub.peers["b"]
	if pb.partnerID != "" || pb.sessionID != "" {
		t.Error("b links not cleared")
	}
	if last := f.transport.last("b"); last["type"] != protocol.TypePartnerDisconnected {
		t.Errorf("b last frame = %v", last)
	}
	if sess, _ := f.store.GetSession(ctx, sid); sess == nil || !sess.Ended() {
		t.Error("expected session ended")
	}
	if !f.presence.removed["a"] || f.presence.get("b") != session.StatusIdle {
		t.Errorf("presence not updated: removed=%v b=%q", f.presence.removed, f.presence.get("b"))
	}

	// Messages from b now have no session.
	f.hub.Message(ctx, "b", "hello?")
	if last := f.transport.last("b"); last["code"] != protocol.CodeNoActiveSession {
		t.Errorf("expected no_active_session, got %v", last)
	}
}

func TestLeave_WhileQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join("a", "1.1.1.1", "")
	f.hub.Search(ctx, "a")

	f.hub.Leave(ctx, "a")
	f.hub.Leave(ctx, "a") // second call is a no-op

	if f.hub.QueueSize() != 0 || f.hub.Connections() != 0 {
		t.Errorf("queue=%d conns=%d after leave", f.hub.QueueSize(), f.hub.Connections())
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentSearch_NoDoublePairing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 64
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		f.join(id, fmt.Sprintf("10.0.0.%d", i), "")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.hub.Search(ctx, id)
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()

	if f.hub.QueueSize() != 0 {
		t.Errorf("expected everyone paired, queue=%d", f.hub.QueueSize())
	}
	if f.hub.ActiveSessions() != n/2 {
		t.Errorf("expected %d sessions, got %d", n/2, f.hub.ActiveSessions())
	}

	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	for id, p := range f.hub.peers {
		partner := f.hub.peers[p.partnerID]
		if partner == nil || partner.partnerID != id || partner.sessionID != p.sessionID {
			t.Errorf("%s has asymmetric link to %q", id, p.partnerID)
		}
		if got := len(f.transport.ofType(id, protocol.TypeConnected)); got != 1 {
			t.Errorf("%s received %d connected frames", id, got)
		}
	}
}

func TestConcurrentNextAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 32
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		f.join(id, id, "")
		f.hub.Search(ctx, id)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			if i%4 == 0 {
				f.hub.Leave(ctx, id)
				return
			}
			f.hub.Next(ctx, id)
			f.hub.Message(ctx, id, "hi")
		}(i)
	}
	wg.Wait()

	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	sessions := 0
	for id, p := range f.hub.peers {
		if p.partnerID == "" {
			// Idle peers were dropped by a partner that moved on.
			continue
		}
		sessions++
		partner := f.hub.peers[p.partnerID]
		if partner == nil || partner.partnerID != id {
			t.Errorf("%s has asymmetric link to %q", id, p.partnerID)
		}
	}
	if sessions/2 != f.hub.sessions {
		t.Errorf("session counter %d, linked pairs %d", f.hub.sessions, sessions/2)
	}
}
