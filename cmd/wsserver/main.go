package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randomchips/chat-app/internal/ban"
	"github.com/randomchips/chat-app/internal/chat"
	"github.com/randomchips/chat-app/internal/config"
	"github.com/randomchips/chat-app/internal/geo"
	"github.com/randomchips/chat-app/internal/httpapi"
	"github.com/randomchips/chat-app/internal/hub"
	"github.com/randomchips/chat-app/internal/messaging"
	"github.com/randomchips/chat-app/internal/metrics"
	"github.com/randomchips/chat-app/internal/protocol"
	"github.com/randomchips/chat-app/internal/ratelimit"
	"github.com/randomchips/chat-app/internal/report"
	"github.com/randomchips/chat-app/internal/session"
	"github.com/randomchips/chat-app/internal/storage"
	"github.com/randomchips/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// --- PostgreSQL (optional) ---
	var (
		db        *sql.DB
		chatStore chat.Store
		banRepo   ban.Repository
		reports   report.Repository
	)
	if cfg.DatabaseURL != "" {
		sc := storage.DefaultConfig()
		sc.URL = cfg.DatabaseURL
		db, err = storage.Open(context.Background(), sc)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		if err := storage.Migrate(db); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		chatStore = chat.NewPostgresStore(db)
		banRepo = ban.NewPostgresRepository(db)
		reports = report.NewPostgresRepository(db)
	} else {
		chatStore = chat.NewMemoryStore()
		banRepo = ban.NewMemoryRepository()
		reports = report.NewMemoryRepository()
	}
	gate := ban.NewGate(banRepo)

	// --- Redis (optional): presence and rate limiting ---
	var (
		presence     hub.Presence
		sessionStore *session.Store
		limiter      *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		sessionStore, err = session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		presence = sessionStore
		pctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		if n, err := sessionStore.Purge(pctx); err != nil {
			log.Printf("[presence] purge stale entries: %v", err)
		} else if n > 0 {
			log.Printf("[presence] purged %d stale entries for %s", n, cfg.ServerName)
		}
		cancel()
		limiter = ratelimit.NewLimiter(sessionStore.Client())
	}

	// --- NATS (optional): moderation events ---
	var (
		events     report.Publisher
		natsClient *messaging.NATSClient
	)
	if cfg.NATSURL != "" {
		nc := messaging.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(nc)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		events = natsClient
	}

	locator, err := geo.Open(cfg.GeoIPDB)
	if err != nil {
		log.Fatalf("failed to open GeoIP database: %v", err)
	}

	log.Printf("RandomChips chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  store_timeout:   %s", cfg.StoreTimeout)
	log.Printf("  database:        %s", enabled(cfg.DatabaseURL != "", "postgres", "memory"))
	log.Printf("  redis_addr:      %s", orNone(cfg.RedisAddr))
	log.Printf("  nats_url:        %s", orNone(cfg.NATSURL))
	log.Printf("  geoip_db:        %s", orNone(cfg.GeoIPDB))
	log.Printf("  server_name:     %s", cfg.ServerName)

	var rl ws.RateLimiter
	if limiter != nil {
		rl = limiter
	}
	dispatcher := ws.NewMessageDispatcher(rl)
	dispatcher.Limit(protocol.TypeMessage, ratelimit.RuleMessage)
	dispatcher.Limit(protocol.TypeSearch, ratelimit.RuleSearch)
	dispatcher.Limit(protocol.TypeNext, ratelimit.RuleSearch)

	server, err := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  ws.DefaultHeartbeatConfig().Timeout,
		},
	}, dispatcher.Dispatch)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	chats := hub.New(hub.Config{StoreTimeout: cfg.StoreTimeout}, server, gate, chatStore, presence)

	dispatcher.Register(protocol.TypeSearch, func(conn *ws.Connection, _ protocol.Inbound) {
		chats.Search(context.Background(), conn.ID)
	})
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg protocol.Inbound) {
		chats.Message(context.Background(), conn.ID, msg.Text)
	})
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, _ protocol.Inbound) {
		chats.Typing(context.Background(), conn.ID, true)
	})
	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, _ protocol.Inbound) {
		chats.Typing(context.Background(), conn.ID, false)
	})
	dispatcher.Register(protocol.TypeNext, func(conn *ws.Connection, _ protocol.Inbound) {
		chats.Next(context.Background(), conn.ID)
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		chats.Join(conn.ID, conn.Addr, conn.Name)
	})
	server.SetOnDisconnect(func(connID string) {
		chats.Leave(context.Background(), connID)
	})
	if sessionStore != nil {
		server.SetOnAlive(func(connID string) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
			defer cancel()
			if err := sessionStore.RefreshTTL(ctx, connID); err != nil {
				log.Printf("[presence] refresh %s: %v", connID, err)
			}
		})
	}

	ledger := report.NewLedger(reports, gate, locator, events)
	var apiLimiter httpapi.Limiter
	if limiter != nil {
		apiLimiter = limiter
	}
	handler := httpapi.NewHandler(report.NewSubmitter(chatStore, ledger), chats, apiLimiter)
	router := httpapi.NewRouter(handler, server.HandleUpgrade, metrics.Handler(), cfg.FrontendURL)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if db == nil {
		// Without PostgreSQL nothing else can see this process's bans.
		go cleanupBans(ctx, gate, cfg.BanCleanupInterval)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if sessionStore != nil {
			if err := sessionStore.Close(); err != nil {
				log.Printf("session store close error: %v", err)
			}
		}
		if err := locator.Close(); err != nil {
			log.Printf("geoip close error: %v", err)
		}
		if db != nil {
			db.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(router); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cleanupBans(ctx context.Context, gate *ban.Gate, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := gate.CleanupExpired(ctx); err != nil {
				log.Printf("[ban] cleanup failed: %v", err)
			}
		}
	}
}

func enabled(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func orNone(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
