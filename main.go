package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/grpc"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpchealth "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/search"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer func() { _ = publisher.Close() }()
	log.Info("event relay configured", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	bus := realtime.NewBus(log,
		realtime.WithRelay(rabbitmq.NewEventRelay(publisher)),
		realtime.WithBufferSize(cfg.SubscriberBuffer),
		realtime.WithReorderWindow(cfg.ReorderWindow),
	)
	defer bus.Close()

	var index messaging.SearchIndex
	if cfg.SearchIndexPath != "" {
		idx, err := search.Open(cfg.SearchIndexPath, log)
		if err != nil {
			return err
		}
		defer func() { _ = idx.Close() }()
		index = idx
	}

	opts := []messaging.Option{messaging.WithStoreTimeout(cfg.StoreTimeout)}
	perms := messaging.NewPermissions(st.conversations, log, opts...)
	directory := messaging.NewDirectory(st.conversations, perms, bus, log, opts...)
	messageStore := messaging.NewMessageStore(st.messages, st.conversations, perms, index, bus, log, opts...)
	ledger := messaging.NewLedger(st.receipts, bus, log, opts...)
	presence := messaging.NewPresenceTracker(st.presence, messaging.Liveness{Threshold: cfg.PresenceLiveness}, bus, log, opts...)

	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)
	verifier := identity.NewTokenVerifier(cfg.JWTSecret)
	hub := ws.NewHub()

	router := newRouter(cfg, routes{
		conversations: handlers.NewConversationHandler(directory, ledger, audit),
		messages:      handlers.NewMessageHandler(messageStore, perms, audit),
		presence:      handlers.NewPresenceHandler(presence),
		sockets:       ws.NewHandler(hub, bus, perms, messageStore, presence, log),
		hub:           hub,
		auth:          middleware.AuthMiddleware(verifier),
		audit:         audit,
		bus:           bus,
	})

	monitor := grpchealth.NewHealthMonitor(st.pingers, log)
	go monitor.Run(ctx)
	grpcServer := grpchealth.NewServer(monitor)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info("starting http server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	grpcAddr := ":" + strconv.Itoa(cfg.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}
	go func() {
		log.Info("starting grpc health server", "address", grpcAddr)
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	monitor.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	log.Info("stopped cleanly")
	return nil
}

type stores struct {
	conversations repositories.ConversationRepository
	receipts      repositories.ReceiptRepository
	messages      repositories.MessageRepository
	presence      repositories.PresenceRepository
	pingers       map[string]grpchealth.Pinger
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	st := &stores{pingers: make(map[string]grpchealth.Pinger)}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := repositories.NewMemoryStore()
		st.conversations, st.receipts, st.messages, st.presence = mem, mem, mem, mem
		st.pingers["store"] = mem
		log.Warn("using in-memory store, data is lost on restart")
	default:
		database, err := db.Connect(ctx, cfg.DBDSN, log)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = database.Close() })
		conversations := repositories.NewConversationRepo(database)
		st.conversations, st.receipts = conversations, conversations
		st.messages = repositories.NewMessageRepo(database)
		st.presence = repositories.NewPresenceRepo(database)
		st.pingers["store"] = conversations
	}

	if cfg.PresenceBackend == config.PresenceBackendRedis {
		rp, err := repositories.NewRedisPresenceRepo(cfg.RedisURL)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = rp.Close() })
		st.presence = rp
		st.pingers["presence"] = rp
		log.Info("presence backed by redis")
	}
	return st, nil
}

type routes struct {
	conversations *handlers.ConversationHandler
	messages      *handlers.MessageHandler
	presence      *handlers.PresenceHandler
	sockets       *ws.Handler
	auth          gin.HandlerFunc
	audit         *telemetry.AuditEmitter
	bus           *realtime.Bus
	hub           *ws.Hub
}

func newRouter(cfg config.Config, r routes) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		observability.RequestIDMiddleware(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(router, r.audit, r.bus, r.hub, cfg.DebugRoutes)

	authMiddleware := r.auth

	router.GET("/conversations", authMiddleware, r.conversations.ListConversations)
	router.POST("/conversations/direct", authMiddleware, r.conversations.StartDirect)
	router.POST("/conversations/group", authMiddleware, r.conversations.CreateGroup)
	router.GET("/conversations/:id", authMiddleware, r.conversations.GetConversation)
	router.POST("/conversations/:id/participants", authMiddleware, r.conversations.AddParticipant)
	router.DELETE("/conversations/:id/participants/:user_id", authMiddleware, r.conversations.RemoveParticipant)
	router.POST("/conversations/:id/leave", authMiddleware, r.conversations.Leave)
	router.POST("/conversations/:id/read", authMiddleware, r.conversations.MarkRead)
	router.GET("/conversations/:id/unread", authMiddleware, r.conversations.UnreadCount)

	router.GET("/conversations/:id/messages", authMiddleware, r.messages.ListMessages)
	router.POST("/conversations/:id/messages", authMiddleware, r.messages.PostMessage)
	router.GET("/conversations/:id/messages/search", authMiddleware, r.messages.SearchMessages)
	router.PATCH("/messages/:id", authMiddleware, r.messages.EditMessage)
	router.DELETE("/messages/:id", authMiddleware, r.messages.DeleteMessage)
	router.GET("/messages/:id/reactions", authMiddleware, r.messages.ListReactions)
	router.POST("/messages/:id/reactions", authMiddleware, r.messages.AddReaction)
	router.DELETE("/messages/:id/reactions/:emoji", authMiddleware, r.messages.RemoveReaction)

	router.PUT("/presence", authMiddleware, r.presence.UpdatePresence)
	router.GET("/presence/online", authMiddleware, r.presence.OnlineUsers)
	router.GET("/presence/:user_id", authMiddleware, r.presence.UserPresence)

	router.GET("/ws/conversations", authMiddleware, r.sockets.ServeInbox)
	router.GET("/ws/conversations/:id", authMiddleware, r.sockets.ServeConversation)
	router.GET("/ws/presence", authMiddleware, r.sockets.ServePresence)

	return router
}
