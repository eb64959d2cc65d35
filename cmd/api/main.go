// Package main implements the trust engine API server.
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

	"github.com/Tank-Iberica/trust-engine/engine/docstore"
	"github.com/Tank-Iberica/trust-engine/engine/profile"
	"github.com/Tank-Iberica/trust-engine/engine/verification"
	"github.com/Tank-Iberica/trust-engine/pkg/metrics"
	"github.com/Tank-Iberica/trust-engine/pkg/mid"
	"github.com/Tank-Iberica/trust-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	QdrantURL  string
	Collection string
	NATSURL    string
	CORSOrigin string
	AnalyzeRPS float64
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "trust_profiles"),
		NATSURL:    envOr("NATS_URL", nats.DefaultURL),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		AnalyzeRPS: 20,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var met = metrics.New()

var (
	mAnalyses  = met.Counter("trust_api_analyses_total", "Usage analyses served")
	mAnomalies = func(kind string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("trust_api_anomalies_total", "type", kind), "Anomalies detected in served analyses")
	}
	mTransitions = func(status string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("trust_api_transitions_total", "status", status), "Document lifecycle transitions applied")
	}
	mSubmissions = met.Counter("trust_api_submissions_total", "Documents submitted")
	mAnalysisDur = met.Histogram("trust_api_analysis_duration_seconds", "Usage analysis latency", nil)
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	store := docstore.New(driver)

	// --- Connect to Qdrant ---
	profiles, err := profile.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer profiles.Close()

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	controller := verification.NewController(store,
		verification.WithEvents(&natsSink{nc: nc}),
		verification.WithLogger(logger),
	)

	srv := newServer(controller, profiles, nc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("/metrics", met.Handler())

	analyzeLimiter := rate.NewLimiter(rate.Limit(cfg.AnalyzeRPS), int(cfg.AnalyzeRPS)*2)
	mux.Handle("POST /api/v1/usage/analysis",
		mid.Chain(http.HandlerFunc(srv.handleAnalyze), mid.RateLimit(analyzeLimiter)))
	mux.Handle("POST /api/v1/profiles/search",
		mid.Chain(http.HandlerFunc(srv.handleProfileSearch), mid.RateLimit(analyzeLimiter)))

	mux.HandleFunc("POST /api/v1/vehicles/{id}/documents", srv.handleSubmit)
	mux.HandleFunc("POST /api/v1/documents/{id}/approve", srv.handleApprove)
	mux.HandleFunc("POST /api/v1/documents/{id}/reject", srv.handleReject)
	mux.HandleFunc("GET /api/v1/vehicles/{id}/level", srv.handleLevel)
	mux.HandleFunc("GET /api/v1/vehicles/{id}/missing-docs", srv.handleMissingDocs)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("trust-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// natsSink publishes level events over NATS.
type natsSink struct {
	nc *nats.Conn
}

func (s *natsSink) Publish(ctx context.Context, event verification.LevelEvent) error {
	return natsutil.Publish(ctx, s.nc, verification.SubjectVerificationUpdated, event)
}
