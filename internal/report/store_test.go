package report

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/randomchips/chat-app/internal/storage"
)

// repositories returns the in-memory repository and, when TEST_DATABASE_URL
// points at a PostgreSQL instance, the PostgreSQL one as well.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	out := map[string]Repository{"memory": NewMemoryRepository()}

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
	out["postgres"] = NewPostgresRepository(db)
	return out
}

func TestRepository_CountAndList(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// A fresh address per run keeps reruns against a shared database isolated.
			addr := "test-" + uuid.NewString()
			base := time.Now().UTC().Truncate(time.Second)

			for i, age := range []time.Duration{10 * 24 * time.Hour, 2 * time.Hour, time.Hour} {
				r := Report{
					ID:           uuid.NewString(),
					ReporterAddr: "reporter",
					ReportedAddr: addr,
					SessionID:    uuid.NewString(),
					Reason:       "spam",
					ChatLog:      json.RawMessage(`[{"sender_ip":"x","message":"hi"}]`),
					Location:     json.RawMessage(`{"country":"Unknown"}`),
					CreatedAt:    base.Add(-age),
				}
				if err := repo.Insert(ctx, r); err != nil {
					t.Fatalf("Insert() #%d error: %v", i, err)
				}
			}

			n, err := repo.CountSince(ctx, addr, base.Add(-2*time.Hour))
			if err != nil {
				t.Fatalf("CountSince() error: %v", err)
			}
			if n != 2 {
				t.Errorf("CountSince() = %d, want 2 (boundary inclusive)", n)
			}

			list, err := repo.ListByAddress(ctx, addr)
			if err != nil {
				t.Fatalf("ListByAddress() error: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("ListByAddress() len = %d, want 3", len(list))
			}
			for i := 1; i < len(list); i++ {
				if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
					t.Error("reports not ordered oldest first")
				}
			}

			var log []map[string]string
			if err := json.Unmarshal(list[0].ChatLog, &log); err != nil || len(log) != 1 || log[0]["message"] != "hi" {
				t.Errorf("chat log = %s (%v)", list[0].ChatLog, err)
			}

			if other, _ := repo.CountSince(ctx, "test-"+uuid.NewString(), time.Time{}); other != 0 {
				t.Errorf("unrelated address count = %d", other)
			}
		})
	}
}
