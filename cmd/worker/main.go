package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rendergate/internal/audit"
	"rendergate/internal/httpapi"
	"rendergate/internal/httpapi/handlers"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/pkg/shutdown"
	"rendergate/internal/render"
	"rendergate/internal/script"
	"rendergate/internal/token"
	"rendergate/internal/upload"
)

// requiredScopes are the capabilities a delegated token must carry to
// render on this worker.
var requiredScopes = []string{"video.create", "manim.render"}

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "rendergate-worker",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting render worker",
		"version", "0.1.0",
	)

	httpPort := getEnv("HTTP_PORT", "8090")
	enginePath := getEnv("RENDER_ENGINE_PATH", "manim")
	workRoot := getEnv("RENDER_WORK_ROOT", os.TempDir())
	slotCount := intEnv(log, "RENDER_SLOTS", 2)
	audience := mustEnv(log, "WORKER_AUDIENCE")

	ctx := context.Background()

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	// Auth mode is an explicit startup decision. A production worker
	// never accepts development tokens.
	verifierCfg := token.VerifierConfig{
		Audience:       audience,
		RequiredScopes: requiredScopes,
	}
	switch mode := getEnv("AUTH_MODE", "provider"); mode {
	case "provider":
		verifierCfg.JWKSURL = mustEnv(log, "JWKS_URL")
	case "dev":
		verifierCfg.DevMode = true
		verifierCfg.DevSecret = []byte(mustEnv(log, "DEV_TOKEN_SECRET"))
		log.Warn("DEVELOPMENT auth mode: dev-signed tokens will be accepted")
	default:
		log.Error("unknown AUTH_MODE", "mode", mode)
		os.Exit(1)
	}

	// Audit store is optional; without it events are log-only.
	var pool *pgxpool.Pool
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		log.Info("connecting to PostgreSQL")
		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		log.Info("PostgreSQL connected")
	} else {
		log.Info("no DATABASE_URL, audit events are log-only")
	}

	renderCfg := render.DefaultConfig(enginePath, workRoot)
	if t := intEnv(log, "RENDER_TIMEOUT_S", 0); t > 0 {
		renderCfg.Timeout = time.Duration(t) * time.Second
	}

	deps := handlers.Deps{
		Verifier:   token.NewVerifier(verifierCfg, log),
		Generator:  script.NewGenerator(log),
		Renderer:   render.New(renderCfg, log),
		Uploader:   upload.NewUploader(nil, log),
		Audit:      audit.NewSink(pool, log),
		Slots:      handlers.NewSlots(slotCount),
		Pool:       pool,
		Log:        log,
		EnginePath: enginePath,
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:         "0.0.0.0:" + httpPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"slots", slotCount,
			"audience", audience,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
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

func intEnv(log *logger.Logger, key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("invalid integer environment variable, using default", "key", key, "value", v)
		return def
	}
	return n
}
