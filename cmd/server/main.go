package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"relaybox.app/relay/common/id"
	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/common/otel"
	"relaybox.app/relay/core/config"
	"relaybox.app/relay/core/db"
	"relaybox.app/relay/internal/blob"
	"relaybox.app/relay/internal/broadcast"
	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/http/middleware"
	httprouter "relaybox.app/relay/internal/http/router"
	"relaybox.app/relay/internal/mailbox"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/queue"
	"relaybox.app/relay/internal/service"
	"relaybox.app/relay/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"delivery", cfg.Delivery,
		"node_id", cfg.NodeID)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	healthChecks := map[string]handler.Pinger{}

	// A redis outage must not keep the server from starting: the mailbox
	// answers 503 until the store is reachable again.
	redisOpts, err := redis.ParseURL(cfg.Mailbox.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisOpts.MaxRetries = -1
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.WarnContext(ctx, "redis not reachable at startup", "error", err)
	} else {
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)
	}

	mailboxStore := mailbox.NewRedisStore(redisClient, mailbox.RedisConfig{
		KeyPrefix: cfg.Mailbox.KeyPrefix,
		TTL:       cfg.Mailbox.TTL,
		OpTimeout: cfg.Mailbox.OpTimeout,
		Metrics:   m,
	})
	healthChecks["redis"] = mailboxStore

	attachmentPolicy := service.DefaultAttachmentPolicy(cfg.Attachments.MaxBytes)
	attachmentPolicy.MaxFiles = cfg.Attachments.MaxFiles

	servicesCfg := service.ServicesConfig{
		Mailbox:          mailboxStore,
		Broker:           broadcast.NewRedisBroker(redisClient),
		Producer:         queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default()),
		Audit:            queue.NewRedisAuditLog(redisClient, cfg.Audit.Stream, cfg.Audit.MaxLen),
		AttachmentPolicy: attachmentPolicy,
		PushDelivery:     cfg.Delivery == config.DeliveryPush,
		Metrics:          m,
	}

	if cfg.DB.Enabled() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to apply schema", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "database connected")

		servicesCfg.Messages = store.NewStores(database.Pool()).Messages()
		servicesCfg.TxRunner = service.NewTxRunner(database)
		healthChecks["postgres"] = database
	}

	var blobReader handler.BlobReader
	if cfg.Attachments.Enabled() {
		blobs, err := blob.Open(ctx, cfg.Attachments.BucketURL, cfg.Attachments.BlobDir, cfg.Attachments.BaseURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize blob storage", "error", err)
			os.Exit(1)
		}
		defer blobs.Close()
		servicesCfg.Blobs = blobs
		blobReader = blobs
	} else {
		slog.InfoContext(ctx, "attachment storage disabled")
	}

	services := service.NewServices(servicesCfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, m, healthChecks, blobReader, attachmentPolicy)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.Delivery == config.DeliveryPush {
		// SSE responses stay open for the life of the client.
		server.WriteTimeout = 0
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, m *metrics.Metrics, healthChecks map[string]handler.Pinger, blobs handler.BlobReader, policy service.AttachmentPolicy) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics(m))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		PushDelivery:       cfg.Delivery == config.DeliveryPush,
		SecretHeader:       cfg.Secrets.HeaderName,
		IngressSecret:      cfg.Secrets.Ingress,
		CallbackSecret:     cfg.Secrets.Callback,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
		RateLimitBurst:     cfg.RateLimit.Burst,
		MaxReplyBodyBytes:  policy.RequestLimit(),
		Blobs:              blobs,
		BlobBaseURL:        cfg.Attachments.BaseURL,
		Metrics:            m,
		HealthChecks:       healthChecks,
	})

	return router
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
██║  ██║███████╗███████╗██║  ██║   ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
