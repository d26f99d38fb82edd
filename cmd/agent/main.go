package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rendergate/internal/agent"
	"rendergate/internal/audit"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/storage"
	"rendergate/internal/token"
	"rendergate/internal/upload"
)

// delegatedScopes are the capabilities the agent requests per ask,
// never more.
var delegatedScopes = []string{"video.create", "manim.render"}

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "rendergate-agent",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting requester agent",
		"version", "0.1.0",
	)

	redisAddr := mustEnv(log, "REDIS_ADDR")
	queueName := getEnv("ASK_QUEUE_NAME", "rendergate:asks")
	workerBaseURL := mustEnv(log, "WORKER_BASE_URL")
	workerAudience := mustEnv(log, "WORKER_AUDIENCE")
	platformBaseURL := mustEnv(log, "PLATFORM_BASE_URL")
	platformToken := mustEnv(log, "PLATFORM_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Auth mode mirrors the worker: an explicit startup decision with
	// no request-time fallback between the two issuers.
	var issuer token.Issuer
	switch mode := getEnv("AUTH_MODE", "provider"); mode {
	case "provider":
		issuer = token.NewProviderIssuer(token.ProviderIssuerConfig{
			TokenURL:     mustEnv(log, "TOKEN_URL"),
			ClientID:     mustEnv(log, "TOKEN_CLIENT_ID"),
			ClientSecret: mustEnv(log, "TOKEN_CLIENT_SECRET"),
		}, log)
	case "dev":
		issuer = token.NewDevIssuer(token.DevIssuerConfig{
			Secret:  []byte(mustEnv(log, "DEV_TOKEN_SECRET")),
			Subject: getEnv("AGENT_SUBJECT", "dev-agent"),
		}, log)
		log.Warn("DEVELOPMENT auth mode: tokens are locally signed")
	default:
		log.Error("unknown AUTH_MODE", "mode", mode)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	var pool *pgxpool.Pool
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		log.Info("PostgreSQL connected")
	} else {
		log.Info("no DATABASE_URL, audit events are log-only")
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	pipeline := agent.NewPipeline(agent.PipelineConfig{
		Issuer:   issuer,
		Uploads:  upload.NewClient(platformBaseURL, platformToken, log),
		Worker:   agent.NewWorkerClient(workerBaseURL),
		Archive:  sp,
		Audit:    audit.NewSink(pool, log),
		Log:      log,
		Audience: workerAudience,
		Scopes:   delegatedScopes,
	})

	log.Info("agent draining asks",
		"queue", queueName,
		"worker", workerBaseURL,
	)
	if err := agent.Run(ctx, agent.Deps{
		RDB:       rdb,
		QueueName: queueName,
		Pipeline:  pipeline,
		Log:       log,
	}); err != nil && ctx.Err() == nil {
		log.LogFatal("agent stopped unexpectedly", err)
	}

	// Give in-flight audit writes a moment before the process exits.
	time.Sleep(100 * time.Millisecond)
	log.Info("agent stopped")
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}

// mustEnv gets a required environment variable or exits.
func mustEnv(log *logger.Logger, key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Error("missing required environment variable", "key", key)
		os.Exit(1)
	}
	return v
}
