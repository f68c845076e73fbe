package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"voxa-chat/internal/auth"
	"voxa-chat/internal/blob"
	"voxa-chat/internal/config"
	"voxa-chat/internal/db"
	"voxa-chat/internal/handlers"
	"voxa-chat/internal/middleware"
	"voxa-chat/internal/observability"
	"voxa-chat/internal/rabbitmq"
	"voxa-chat/internal/ratelimit"
	"voxa-chat/internal/repositories"
	"voxa-chat/internal/telemetry"
	"voxa-chat/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(ctx, cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, telemetry.RoutingKeyModeration, cfg.ServiceName, cfg.Environment)

	limiter := ratelimit.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Chat.SendLimit, cfg.Chat.SendWindow)

	uploads, err := blob.NewFileStore(cfg.Uploads.Dir, cfg.Uploads.PublicURL)
	if err != nil {
		log.Fatalf("failed to prepare uploads: %v", err)
	}

	messageRepo := repositories.NewMessageRepo(database)
	roomRepo := repositories.NewRoomRepo(database)
	profileRepo := repositories.NewProfileRepo(database)
	muteRepo := repositories.NewMuteRepo(database)

	hub := ws.NewHub()
	listener, err := db.NewEventListener(cfg.Database.DSN, hub)
	if err != nil {
		log.Fatalf("failed to listen for message events: %v", err)
	}
	go listener.Run(ctx)

	validator := auth.NewTokenValidator(cfg.JWT.Secret, cfg.JWT.Issuer)

	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, profileRepo, cfg.Chat.HistoryLimit)
	profileHandler := handlers.NewProfileHandler(profileRepo)
	adminHandler := handlers.NewAdminHandler(profileRepo, messageRepo, muteRepo, audit)
	uploadHandler := handlers.NewUploadHandler(uploads, cfg.Uploads.MaxBytes)
	sessionWS := ws.NewSessionHandler(hub, validator, profileRepo, roomRepo, messageRepo, limiter, ws.HandlerOptions{
		HistoryLimit: cfg.Chat.HistoryLimit,
		TypingExpiry: cfg.Chat.TypingExpiry,
		WriteBuffer:  cfg.Chat.WSWriteBuffer,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/uploads", uploads.Dir())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	router.POST("/rooms/join", authMiddleware, roomHandler.JoinRoom)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.GetRoomMessages)
	router.GET("/rooms/:room_id/members", authMiddleware, roomHandler.ListMembers)

	router.POST("/uploads", authMiddleware, uploadHandler.Upload)

	router.GET("/profile/:user_id", authMiddleware, profileHandler.GetProfile)
	router.PUT("/profile", authMiddleware, profileHandler.UpdateProfile)

	admin := router.Group("/admin", authMiddleware, middleware.AdminMiddleware(profileRepo))
	admin.GET("/users", adminHandler.ListUsers)
	admin.GET("/messages", adminHandler.ListMessages)
	admin.DELETE("/messages/:message_id", adminHandler.DeleteMessage)
	admin.GET("/mutes", adminHandler.ListMutes)
	admin.POST("/users/:user_id/mute", adminHandler.MuteUser)
	admin.DELETE("/users/:user_id/mute", adminHandler.UnmuteUser)
	admin.PUT("/users/:user_id/username", adminHandler.RenameUser)
	admin.DELETE("/users/:user_id", adminHandler.DeleteUser)

	handlers.RegisterDebugRoutes(router, audit, cfg.Environment != "production")

	router.GET("/ws", sessionWS.Handle)

	grpcServer, healthServer := observability.NewOpsServer()
	grpcListener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.Fatalf("failed to listen on grpc port: %v", err)
	}
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("chat service listening port=%s grpc_port=%s", cfg.Server.Port, cfg.Server.GRPCPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	observability.SetServing(healthServer, true)

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			observability.SetServing(healthServer, false)
			if err := server.Shutdown(ctx); err != nil {
				return err
			}
			cancel()
			if err := listener.Close(); err != nil {
				log.Printf("listener close: %v", err)
			}
			return database.Close()
		},
		"grpc": func(ctx context.Context) error {
			grpcServer.GracefulStop()
			return nil
		},
		"events": func(ctx context.Context) error {
			return publisher.Close()
		},
		"ratelimit": func(ctx context.Context) error {
			return limiter.Close()
		},
		"tracing": shutdownTracing,
	})

	exitCode := <-wait
	log.Printf("chat service exited code=%d", exitCode)
	os.Exit(exitCode)
}
