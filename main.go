package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/comments"
	"whiteboardsync/internal/config"
	"whiteboardsync/internal/database/db_client"
	"whiteboardsync/internal/http/http_server"
	"whiteboardsync/internal/ratelimit"
	"whiteboardsync/internal/redis/redis_client"
	"whiteboardsync/internal/snapshot"
	"whiteboardsync/internal/syncdb"
	"whiteboardsync/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully",
		zap.Uint16("port", cfg.HttpServerPort),
		zap.Duration("probe_interval", cfg.WsProbeInterval),
		zap.Duration("idle_timeout", cfg.WsIdleTimeout),
	)

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err := redis_client.NewRedisClient(cfg.RedisHost, cfg.RedisPort)
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := db_client.Migrate(pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	}

	// 5. Services
	verifier := auth.NewJWTVerifier(cfg.AuthJWTSecret)
	snapshots := snapshot.NewRedisStore(redisClient, cfg.WsSnapshotTTL).
		WithArchive(snapshot.NewPostgresArchive(pgDb))
	commentService := comments.NewService(comments.NewStore(pgDb), comments.NewRedisPublisher(redisClient))

	// 6. Background: snapshot mirror into Postgres
	syncdb.Run(ctx, redisClient, pgDb, cfg.SnapshotArchiveInterval)

	// 7. WebSockets hub + Redis fan‑out
	hub := ws.NewHub(ws.HubConfig{
		ProbeInterval:    cfg.WsProbeInterval,
		IdleTimeout:      cfg.WsIdleTimeout,
		MaxBufferedBytes: cfg.WsMaxBufferedBytes,
	})
	wsSrv := ws.NewWsServer(hub, redisClient, snapshots, verifier,
		ratelimit.New(ctx, cfg.RateLimitPerIP),
		ws.ServerConfig{
			MaxMessageSize: cfg.WsMaxMessageSize,
			WriteWait:      cfg.WsWriteWait,
			SendQueue:      cfg.WsSendQueue,
		})

	// 8. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, commentService, verifier)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
		Log.Info("shutdown")
	}

	// 9. Graceful shutdown: stop accepting, then release every room
	_ = httpServer.Dispose()
	hub.CloseAll(websocket.CloseGoingAway, "server shutdown")
}
