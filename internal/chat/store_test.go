package chat

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/randomchips/chat-app/internal/storage"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// stores returns the in-memory store and, when TEST_DATABASE_URL points at
// a PostgreSQL instance, the PostgreSQL store as well.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewMemoryStore()}

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		return out
	}
	cfg := storage.DefaultConfig()
	cfg.URL = url
	db, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Logf("postgres not available: %v", err)
		return out
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	out["postgres"] = NewPostgresStore(db)
	return out
}

func TestCreateAndGetSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := store.CreateSession(ctx,
				Participant{Addr: "1.1.1.1", Name: "alice"},
				Participant{Addr: "2.2.2.2", Name: "bob"})
			if err != nil {
				t.Fatalf("CreateSession() error: %v", err)
			}
			if id == "" {
				t.Fatal("expected non-empty session id")
			}

			sess, err := store.GetSession(ctx, id)
			if err != nil {
				t.Fatalf("GetSession() error: %v", err)
			}
			if sess == nil {
				t.Fatal("expected session, got nil")
			}
			if sess.User1Addr != "1.1.1.1" || sess.User2Addr != "2.2.2.2" {
				t.Errorf("unexpected addresses: %+v", sess)
			}
			if sess.User1Name != "alice" || sess.User2Name != "bob" {
				t.Errorf("unexpected names: %+v", sess)
			}
			if sess.Ended() {
				t.Error("new session should not be ended")
			}
		})
	}
}

func TestGetSession_NotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"does-not-exist", "6f1c7c33-3b8e-4a57-9e53-2b7f3b6e0a11"} {
				sess, err := store.GetSession(context.Background(), id)
				if err != nil {
					t.Fatalf("GetSession(%q) error: %v", id, err)
				}
				if sess != nil {
					t.Errorf("GetSession(%q) = %+v, want nil", id, sess)
				}
			}
		})
	}
}

func TestEndSession_WrittenOnce(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return now })
	ctx := context.Background()

	id, _ := mem.CreateSession(ctx, Participant{Addr: "a"}, Participant{Addr: "b"})

	if err := mem.EndSession(ctx, id); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}
	first, _ := mem.GetSession(ctx, id)
	if !first.Ended() {
		t.Fatal("expected session to be ended")
	}

	now = now.Add(time.Hour)
	if err := mem.EndSession(ctx, id); err != nil {
		t.Fatalf("second EndSession() error: %v", err)
	}
	second, _ := mem.GetSession(ctx, id)
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("end timestamp changed: %v -> %v", first.EndedAt, second.EndedAt)
	}
}

func TestEndSession_NoOps(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.EndSession(ctx, ""); err != nil {
				t.Errorf("EndSession(\"\") error: %v", err)
			}
			if err := store.EndSession(ctx, "6f1c7c33-3b8e-4a57-9e53-2b7f3b6e0a11"); err != nil {
				t.Errorf("EndSession(unknown) error: %v", err)
			}
		})
	}
}

func TestMessagesOrdered(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.CreateSession(ctx, Participant{Addr: "a"}, Participant{Addr: "b"})
			if err != nil {
				t.Fatalf("CreateSession() error: %v", err)
			}

			texts := []string{"hello", "hi", "how are you?"}
			for i, text := range texts {
				sender := "a"
				if i%2 == 1 {
					sender = "b"
				}
				if _, err := store.SaveMessage(ctx, id, sender, text); err != nil {
					t.Fatalf("SaveMessage() error: %v", err)
				}
			}

			msgs, err := store.ListMessages(ctx, id)
			if err != nil {
				t.Fatalf("ListMessages() error: %v", err)
			}
			if len(msgs) != len(texts) {
				t.Fatalf("expected %d messages, got %d", len(texts), len(msgs))
			}
			for i, m := range msgs {
				if m.Text != texts[i] {
					t.Errorf("index %d: expected %q, got %q", i, texts[i], m.Text)
				}
				if m.SessionID != id {
					t.Errorf("index %d: wrong session id %q", i, m.SessionID)
				}
			}
			if msgs[1].SenderAddr != "b" {
				t.Errorf("expected second sender b, got %q", msgs[1].SenderAddr)
			}
		})
	}
}

func TestListMessages_Empty(t *testing.T) {
	msgs, err := NewMemoryStore().ListMessages(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected non-nil empty slice, got %v", msgs)
	}
}

func TestOtherParticipant(t *testing.T) {
	sess := &Session{User1Addr: "1.1.1.1", User2Addr: "2.2.2.2"}

	tests := []struct {
		addr  string
		other string
		ok    bool
	}{
		{"1.1.1.1", "2.2.2.2", true},
		{"2.2.2.2", "1.1.1.1", true},
		{"3.3.3.3", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		other, ok := sess.OtherParticipant(tt.addr)
		if other != tt.other || ok != tt.ok {
			t.Errorf("OtherParticipant(%q) = (%q, %v), want (%q, %v)", tt.addr, other, ok, tt.other, tt.ok)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		valid bool
	}{
		{"simple", "hello", true},
		{"unicode", "héllo wörld", true},
		{"max chars", strings.Repeat("a", MaxTextChars), true},
		{"multi-line", "first\n\tsecond", true},
		{"empty", "", false},
		{"whitespace only", " \n\t ", false},
		{"control character", "bell\a", false},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), false},
		{"too many bytes", strings.Repeat("é", MaxMessageBytes/2+1), false},
		{"invalid utf8", string([]byte{0xff, 0xfe}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if tt.valid && err != nil {
				t.Errorf("ValidateMessage() = %v, want nil", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("ValidateMessage() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidMessage) {
					t.Errorf("expected ErrInvalidMessage, got %v", err)
				}
			}
		})
	}
}
