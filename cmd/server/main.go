package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tripletake/tripletake/internal/api"
	"github.com/tripletake/tripletake/internal/chunkstore"
	"github.com/tripletake/tripletake/internal/db"
	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/ffmpeg"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/merge"
	"github.com/tripletake/tripletake/internal/ratelimit"
	"github.com/tripletake/tripletake/internal/upload"
)

var version string

func main() {
	// Start pprof debug server if enabled (for memory/CPU profiling)
	if os.Getenv("ENABLE_PPROF") == "true" {
		go startPprofServer()
	}

	// Initialize OpenTelemetry.
	// Configured via env vars: OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry", "error", err)
		// Non-fatal: continue without tracing if OTEL env vars not set
	} else {
		defer otelShutdown()
	}

	config := loadConfig()

	// Chunk storage: S3/MinIO in production, in-memory for local development
	var store chunkstore.Store
	switch config.StorageBackend {
	case "s3":
		s3Store, err := chunkstore.NewS3Store(config.S3Config)
		if err != nil {
			logger.Fatal("failed to initialize storage", "error", err)
		}
		store = s3Store
	case "memory":
		logger.Warn("using in-memory chunk storage; data is lost on restart")
		store = chunkstore.NewMemory()
	default:
		logger.Fatal("invalid STORAGE_BACKEND", "value", config.StorageBackend, "hint", "must be s3 or memory")
	}

	// Event sinks: always log; additionally persist to Postgres when configured
	sink := events.Multi{events.LogSink{}}
	if config.DatabaseURL != "" {
		audit, err := db.Connect(config.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to audit database", "error", err)
		}
		defer audit.Close()
		sink = append(sink, audit)
		logger.Info("audit event sink enabled")
	}

	uploads := upload.NewManager(store, sink)
	merger := ffmpeg.New(store)
	if config.FFmpegPath != "" {
		merger.FFmpegPath = config.FFmpegPath
	}
	if config.FFprobePath != "" {
		merger.FFprobePath = config.FFprobePath
	}
	orchestrator := merge.NewOrchestrator(uploads, store, merger, sink, merge.Config{
		MergeTimeout: config.MergeTimeout,
		StagingDir:   config.StagingDir,
	})

	// Retention janitor garbage-collects terminal groups in the background
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	janitor := merge.NewJanitor(orchestrator, merge.JanitorConfig{
		Interval:  config.JanitorInterval,
		Retention: config.RetentionWindow,
	})
	go janitor.Run(janitorCtx)

	limiter := ratelimit.NewInMemoryRateLimiter(config.RateLimitRPS, config.RateLimitBurst, 10*time.Minute)
	defer limiter.Stop()

	server := api.NewServer(uploads, orchestrator, limiter, config.AllowedOrigins, version)
	router := server.SetupRoutes()

	// Wrap router with OpenTelemetry HTTP instrumentation
	handler := otelhttp.NewHandler(router, "tripletake-backend")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", config.Port, "version", version, "storage", config.StorageBackend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stopJanitor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	StorageBackend  string
	S3Config        chunkstore.S3Config
	DatabaseURL     string
	MergeTimeout    time.Duration
	StagingDir      string
	RetentionWindow time.Duration
	JanitorInterval time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	AllowedOrigins  []string
	FFmpegPath      string
	FFprobePath     string
}

func loadConfig() Config {
	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	config := Config{
		Port:            port,
		ReadTimeout:     durationEnv("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    durationEnv("HTTP_WRITE_TIMEOUT", 30*time.Second),
		StorageBackend:  "s3",
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MergeTimeout:    durationEnv("MERGE_TIMEOUT", merge.DefaultMergeTimeout),
		StagingDir:      os.Getenv("STAGING_DIR"),
		RetentionWindow: durationEnv("RETENTION_WINDOW", 24*time.Hour),
		JanitorInterval: durationEnv("JANITOR_INTERVAL", 10*time.Minute),
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		FFmpegPath:      os.Getenv("FFMPEG_PATH"),
		FFprobePath:     os.Getenv("FFPROBE_PATH"),
	}

	if sb := os.Getenv("STORAGE_BACKEND"); sb != "" {
		config.StorageBackend = sb
	}

	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		fmt.Sscanf(rps, "%f", &config.RateLimitRPS)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		fmt.Sscanf(burst, "%d", &config.RateLimitBurst)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// S3/storage configuration is only required for the s3 backend
	if config.StorageBackend == "s3" {
		s3Endpoint := os.Getenv("S3_ENDPOINT")
		if s3Endpoint == "" {
			logger.Fatal("missing required env var", "var", "S3_ENDPOINT")
		}

		awsAccessKeyID := os.Getenv("AWS_ACCESS_KEY_ID")
		if awsAccessKeyID == "" {
			logger.Fatal("missing required env var", "var", "AWS_ACCESS_KEY_ID")
		}

		awsSecretAccessKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if awsSecretAccessKey == "" {
			logger.Fatal("missing required env var", "var", "AWS_SECRET_ACCESS_KEY")
		}

		bucketName := os.Getenv("BUCKET_NAME")
		if bucketName == "" {
			logger.Fatal("missing required env var", "var", "BUCKET_NAME")
		}

		config.S3Config = chunkstore.S3Config{
			Endpoint:        s3Endpoint,
			AccessKeyID:     awsAccessKeyID,
			SecretAccessKey: awsSecretAccessKey,
			BucketName:      bucketName,
			UseSSL:          os.Getenv("S3_USE_SSL") != "false", // Default true
		}
	}

	return config
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		logger.Warn("ignoring unparseable duration env var", "var", name, "value", v)
	}
	return fallback
}

// startPprofServer starts a pprof debug server on localhost:6060, only
// reachable locally.
func startPprofServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))

	addr := "127.0.0.1:6060"
	logger.Info("pprof debug server starting", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("pprof server failed", "error", err)
	}
}
