package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randomchips/chat-app/internal/ban"
	"github.com/randomchips/chat-app/internal/config"
	"github.com/randomchips/chat-app/internal/messaging"
	"github.com/randomchips/chat-app/internal/storage"
)

func main() {
	log.Println("Starting RandomChips moderation service...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required: the moderator works on the shared ban table")
	}

	sc := storage.DefaultConfig()
	sc.URL = cfg.DatabaseURL
	db, err := storage.Open(context.Background(), sc)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	gate := ban.NewGate(ban.NewPostgresRepository(db))

	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		nc := messaging.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Name = "randomchips-moderator"
		nc.Queue = "moderators"
		natsClient, err = messaging.NewNATSClient(nc)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}

		err = messaging.Handle(natsClient, messaging.SubjectReportCreated, func(ev messaging.ReportCreated) {
			log.Printf("[moderator] report %s against %s reason=%s session=%s (%d in window)",
				ev.ReportID, ev.ReportedAddr, ev.Reason, ev.SessionID, ev.Count)
		})
		if err != nil {
			log.Fatalf("failed to subscribe to %s: %v", messaging.SubjectReportCreated, err)
		}

		err = messaging.Handle(natsClient, messaging.SubjectBanApplied, func(ev messaging.BanApplied) {
			log.Printf("[moderator] BANNED %s until %s ban=%s reason=%q",
				ev.Address, time.Unix(ev.BannedUntil, 0).UTC().Format(time.RFC3339), ev.BanID, ev.Reason)
		})
		if err != nil {
			log.Fatalf("failed to subscribe to %s: %v", messaging.SubjectBanApplied, err)
		}
	}

	log.Printf("RandomChips moderation service running")
	log.Printf("  nats_url:         %s", cfg.NATSURL)
	log.Printf("  cleanup_interval: %s", cfg.BanCleanupInterval)

	ctx, stop := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.BanCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := gate.CleanupExpired(ctx); err != nil {
					log.Printf("[moderator] ban cleanup failed: %v", err)
				}
			}
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	if natsClient != nil {
		natsClient.Close()
	}
	db.Close()
}
