package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-coordinator/internal/config"
	"chat-coordinator/internal/coordinator"
	"chat-coordinator/internal/db"
	grpcserver "chat-coordinator/internal/grpc"
	"chat-coordinator/internal/handlers"
	"chat-coordinator/internal/middleware"
	"chat-coordinator/internal/observability"
	"chat-coordinator/internal/rabbitmq"
	"chat-coordinator/internal/repositories"
	"chat-coordinator/internal/telemetry"
	"chat-coordinator/internal/ws"
)

const serviceName = "chat-coordinator"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	publisher, status := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("event publisher mode=%s reason=%q", status.Mode, status.Reason)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.coordinator", serviceName, cfg.Environment)

	var observer coordinator.Observer
	archiveDone := make(chan struct{})
	if cfg.ArchiveDSN != "" {
		database, err := db.Connect(cfg.ArchiveDSN)
		if err != nil {
			log.Fatalf("failed to connect to archive db: %v", err)
		}
		defer database.Close()

		runID := uuid.NewString()
		archiver := repositories.NewArchiver(repositories.NewArchiveRepo(database, runID), 0)
		go func() {
			defer close(archiveDone)
			archiver.Run(ctx)
		}()
		observer = archiver
		log.Printf("message archive enabled run_id=%s", runID)
	} else {
		close(archiveDone)
	}

	hub := ws.NewHub(cfg.WSSendBuffer)
	coord := coordinator.New(hub, coordinator.Options{
		DefaultRoom: cfg.DefaultRoom,
		HistoryCap:  cfg.HistoryCap,
		BacklogSize: cfg.BacklogSize,
		TypingTTL:   cfg.TypingTTL,
		Observer:    observer,
	})
	go coord.Run(ctx)

	router := gin.Default()
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws", ws.NewHandler(hub, coord, audit).Handle)
	handlers.NewQueryHandler(coord).Register(router)
	handlers.RegisterDebugRoutes(router, audit, coord, cfg.DebugRoutes)
	router.GET("/healthz", func(c *gin.Context) {
		select {
		case <-coord.Done():
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		}
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("http listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	health := grpcserver.NewHealthServer()
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("failed to listen grpc: %v", err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()
	health.SetServing(true)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				hub.CloseAll()
				return httpServer.Shutdown(ctx)
			},
			"grpc": func(ctx context.Context) error {
				return health.Stop(ctx)
			},
			"coordinator": func(ctx context.Context) error {
				cancel()
				select {
				case <-coord.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
				select {
				case <-archiveDone:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			"amqp": func(ctx context.Context) error {
				return publisher.Close()
			},
			"tracer": func(ctx context.Context) error {
				return shutdownTracer(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("chat-coordinator exited with code: %d", exitCode)
	os.Exit(exitCode)
}
