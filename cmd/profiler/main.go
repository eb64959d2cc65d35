// Command profiler consumes usage analysis events from NATS and maintains
// the per-vehicle fingerprint collection in Qdrant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/profile"
	"github.com/Tank-Iberica/trust-engine/pkg/fn"
	"github.com/Tank-Iberica/trust-engine/pkg/metrics"
	"github.com/Tank-Iberica/trust-engine/pkg/natsutil"
	"github.com/Tank-Iberica/trust-engine/pkg/resilience"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mEventsTotal   = met.Counter("trust_profiler_events_total", "Analysis events received")
	mEventsDropped = func(reason string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("trust_profiler_events_dropped_total", "reason", reason), "Events dropped before upsert")
	}
	mUpsertsTotal = met.Counter("trust_profiler_upserts_total", "Fingerprints written to Qdrant")
	mUpsertErrors = met.Counter("trust_profiler_upsert_errors_total", "Qdrant upsert failures after retries")
	mUpsertDur    = met.Histogram("trust_profiler_upsert_duration_seconds", "Qdrant upsert latency", nil)
	mQueueDepth   = met.Gauge("trust_profiler_queue_depth", "Events waiting to process")
)

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "trust_profiles", "Qdrant collection name")
		metricsPort = flag.Int("metrics-port", 9092, "metrics HTTP port")
		upsertRate  = flag.Float64("rate", 50, "max fingerprint upserts per second")
		queueSize   = flag.Int("queue", 1024, "event buffer size")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort)

	// Connect Qdrant
	store, err := profile.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", profile.Dims)

	// Connect NATS
	nc, err := nats.Connect(*natsURL, nats.Name("trust-profiler"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()
	log.Info("connected to NATS", "url", *natsURL)

	// Upsert pipeline: validate, pace, write with retry.
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: *upsertRate, Burst: int(*upsertRate)})

	upsert := fn.TracedStage("profiler.upsert",
		fn.RetryStage(fn.DefaultRetry, fn.Stage[profile.AnalysisEvent, profile.AnalysisEvent](
			func(ctx context.Context, ev profile.AnalysisEvent) fn.Result[profile.AnalysisEvent] {
				start := time.Now()
				if err := store.Upsert(ctx, ev); err != nil {
					return fn.Err[profile.AnalysisEvent](err)
				}
				mUpsertDur.Since(start)
				return fn.Ok(ev)
			})))

	events := make(chan profile.AnalysisEvent, *queueSize)

	sub, err := natsutil.Subscribe(nc, profile.SubjectUsageAnalyzed, func(_ context.Context, ev profile.AnalysisEvent) {
		mEventsTotal.Inc()
		select {
		case events <- ev:
			mQueueDepth.Set(int64(len(events)))
		default:
			mEventsDropped("queue_full").Inc()
			log.Warn("event queue full, dropping", "vehicle_id", ev.VehicleID)
		}
	})
	if err != nil {
		log.Error("nats subscribe failed", "subject", profile.SubjectUsageAnalyzed, "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	log.Info("profiler started", "subject", profile.SubjectUsageAnalyzed, "rate", *upsertRate)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case ev := <-events:
			mQueueDepth.Set(int64(len(events)))
			if ev.VehicleID == "" {
				mEventsDropped("no_vehicle_id").Inc()
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if result := upsert(ctx, ev); result.IsErr() {
				_, err := result.Unwrap()
				mUpsertErrors.Inc()
				log.Error("fingerprint upsert failed", "vehicle_id", ev.VehicleID, "error", err)
				continue
			}
			mUpsertsTotal.Inc()
			log.Debug("fingerprint upserted", "vehicle_id", ev.VehicleID, "score", ev.Analysis.Score)
		}
	}
}
