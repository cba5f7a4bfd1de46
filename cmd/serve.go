package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/bus"
	"github.com/Ashfaaq98/assetintel/internal/enricher"
	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	serveMetricsInterval time.Duration
	serveHealthInterval  time.Duration
	serveMaxLen          int64
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Enrich OCSF events from the Redis events stream",
	Long: `Consume the "events" Redis stream as a consumer group member, look up the
observables of every event and publish asset enrichments to the
"enrichments" stream.

An event is acknowledged once it has been handled. Events whose lookup fails
are logged and acknowledged; events whose enrichment could not be published
stay pending for redelivery.

Examples:
  assetintel serve --url https://inventory.example.com --security-token s3cr3t
  assetintel serve --history-db ./data/history.db --cache-redis redis://localhost:6379/1`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("group", "", "Consumer group name")
	serveCmd.Flags().String("consumer", "", "Consumer name within the group")
	serveCmd.Flags().DurationVar(&serveMetricsInterval, "metrics-interval", 5*time.Minute, "How often to log metrics")
	serveCmd.Flags().DurationVar(&serveHealthInterval, "health-interval", 30*time.Second, "How often to check the Redis connection")
	serveCmd.Flags().Int64Var(&serveMaxLen, "max-len", 0, "Trim the streams to about this many entries on each metrics tick (0: never)")

	viper.BindPFlag("serve.group", serveCmd.Flags().Lookup("group"))
	viper.BindPFlag("serve.consumer", serveCmd.Flags().Lookup("consumer"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger("serve")

	opts := cfg.Lookup.Options()
	if errs := lookup.ValidateOptions(opts); len(errs) > 0 {
		return lookup.ValidationError(errs)
	}

	logger.Println("Starting assetintel enrichment worker")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Println("Connecting to event bus...")
	rb, err := bus.NewRedisBus(cfg.Redis.URL, newLogger("bus"))
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer rb.Close()

	ecfg := enricher.Config{Source: "serve"}
	if rt.history != nil {
		ecfg.History = rt.history
	}
	enr := enricher.New(rt.engine, opts, rb, ecfg, newLogger("enricher"))

	w := &worker{
		bus:      rb,
		enricher: enr,
		engine:   rt.engine,
		logger:   logger,
		group:    cfg.Serve.Group,
		consumer: cfg.Serve.Consumer,
		maxLen:   serveMaxLen,
	}

	err = w.Run(ctx, serveMetricsInterval, serveHealthInterval)
	w.logMetrics(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Println("Enrichment worker stopped")
	return nil
}

// worker runs the stream consumer alongside its health and metrics loops.
type worker struct {
	bus      *bus.RedisBus
	enricher *enricher.Enricher
	engine   *lookup.Engine
	logger   *log.Logger

	group    string
	consumer string
	maxLen   int64
}

func (w *worker) Run(ctx context.Context, metricsEvery, healthEvery time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.logger.Printf("Consuming %s as %s/%s", bus.EventsStream, w.group, w.consumer)
		return w.bus.ReadEventsStream(gctx, w.group, w.consumer, w.enricher.HandleEvent)
	})

	g.Go(func() error {
		return every(gctx, healthEvery, func() {
			hctx, cancel := context.WithTimeout(gctx, 10*time.Second)
			defer cancel()
			if err := w.bus.HealthCheck(hctx); err != nil {
				w.logger.Printf("Redis health check failed: %v", err)
			}
		})
	})

	g.Go(func() error {
		return every(gctx, metricsEvery, func() {
			w.logMetrics(gctx)
			if w.maxLen > 0 {
				if err := w.bus.CleanupOldMessages(gctx, bus.EventsStream, w.maxLen); err != nil {
					w.logger.Printf("Failed to trim %s: %v", bus.EventsStream, err)
				}
			}
		})
	})

	return g.Wait()
}

func (w *worker) logMetrics(ctx context.Context) {
	em := w.engine.Metrics()
	w.logger.Printf("Lookup metrics: batches=%d auth_calls=%d token_cache_hits=%d requests=%d hits=%d misses=%d skipped=%d errors=%d peak_in_flight=%d",
		em.Batches, em.AuthCalls, em.TokenCacheHits, em.Requests, em.Hits, em.Misses, em.Skipped, em.Errors, w.engine.PeakInFlight())

	m := w.enricher.Metrics()
	w.logger.Printf("Enricher metrics: events=%d without_hits=%d enrichments=%d lookup_failures=%d malformed=%d avg=%s",
		m.EventsProcessed, m.EventsWithoutHits, m.EnrichmentsAdded, m.LookupFailures, m.MalformedEvents, m.AverageProcessTime)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if stats, err := w.bus.GetStats(sctx); err != nil {
		w.logger.Printf("Failed to get Redis stats: %v", err)
	} else {
		w.logger.Printf("Redis stats: %+v", stats)
	}
	if n, err := w.bus.Pending(sctx, bus.EventsStream, w.group); err == nil && n > 0 {
		w.logger.Printf("%d event(s) pending redelivery", n)
	}
}

// every calls fn on each tick until ctx is done. A non-positive interval
// disables the loop.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
