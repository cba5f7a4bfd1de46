package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Ashfaaq98/assetintel/internal/bus"
	"github.com/Ashfaaq98/assetintel/internal/enricher"
	"github.com/Ashfaaq98/assetintel/internal/ingest"
	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/spf13/cobra"
)

var (
	watchDir         string
	watchFollow      bool
	watchPatterns    string
	watchTailFromEnd bool
	watchPublish     bool
	watchPrint       bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Enrich OCSF events from files in a directory (optionally watch for changes)",
	Long: `Read OCSF events from a directory. Supports JSONL (line-delimited) and JSON
files (a single event or an array of events).

By default every event is enriched in-process and the enrichment is published
to the "enrichments" Redis stream when Redis is reachable. With --publish the
events are forwarded untouched to the "events" stream for a serve worker.

Examples:
  # One-shot: enrich existing files, print the enrichments and exit
  assetintel watch --dir ./incoming --print

  # Watch mode: tail JSONL appends and reprocess JSON changes
  assetintel watch --dir ./incoming --watch --tail-from-end

  # Feed a serve worker
  assetintel watch --dir ./incoming --watch --publish --pattern "*.jsonl"`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to read files from (required)")
	watchCmd.MarkFlagRequired("dir")

	watchCmd.Flags().BoolVar(&watchFollow, "watch", false, "Watch directory for changes and tail JSONL files")
	watchCmd.Flags().StringVar(&watchPatterns, "pattern", "*.jsonl,*.json", "Comma-separated glob patterns to match (e.g. \"*.jsonl,*.json\")")
	watchCmd.Flags().BoolVar(&watchTailFromEnd, "tail-from-end", false, "In watch mode, skip lines already present in JSONL files")
	watchCmd.Flags().BoolVar(&watchPublish, "publish", false, "Forward events to the events stream instead of enriching them here")
	watchCmd.Flags().BoolVar(&watchPrint, "print", false, "Print each enrichment as a JSON line on stdout")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger("watch")

	var patterns []string
	for _, p := range strings.Split(watchPatterns, ",") {
		if s := strings.TrimSpace(p); s != "" {
			patterns = append(patterns, s)
		}
	}

	eventBus := bus.NewBus(cfg.Redis.URL, newLogger("bus"))
	defer eventBus.Close()

	var handler bus.EventHandler
	var enr *enricher.Enricher
	if watchPublish {
		if _, ok := eventBus.(*bus.NullBus); ok {
			return errors.New("--publish needs a reachable Redis (--redis or redis.url)")
		}
		handler = ingest.PublishTo(eventBus)
	} else {
		opts := cfg.Lookup.Options()
		if errs := lookup.ValidateOptions(opts); len(errs) > 0 {
			return lookup.ValidationError(errs)
		}
		rt, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		var pub enricher.Publisher = eventBus
		if watchPrint {
			pub = teePublisher{eventBus, &jsonLinePublisher{w: cmd.OutOrStdout()}}
		}
		ecfg := enricher.Config{Source: "watch"}
		if rt.history != nil {
			ecfg.History = rt.history
		}
		enr = enricher.New(rt.engine, opts, pub, ecfg, newLogger("enricher"))
		handler = enr.HandleEvent
	}

	fi := ingest.NewFolderIngestor(handler, ingest.FolderOptions{
		Dir:         watchDir,
		Watch:       watchFollow,
		Patterns:    patterns,
		Logger:      logger,
		TailFromEnd: watchTailFromEnd,
	})

	logger.Printf("Starting folder ingest: dir=%s watch=%v patterns=%v publish=%v", watchDir, watchFollow, patterns, watchPublish)
	err := fi.Run(ctx)
	if enr != nil {
		m := enr.Metrics()
		logger.Printf("Enricher metrics: events=%d without_hits=%d enrichments=%d lookup_failures=%d malformed=%d",
			m.EventsProcessed, m.EventsWithoutHits, m.EnrichmentsAdded, m.LookupFailures, m.MalformedEvents)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("folder ingest failed: %w", err)
	}
	return nil
}

// jsonLinePublisher writes each enrichment as one JSON line.
type jsonLinePublisher struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *jsonLinePublisher) PublishEnrichment(ctx context.Context, msg bus.EnrichmentMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintf(p.w, "%s\n", b)
	return err
}

// teePublisher publishes to every wrapped publisher and returns the first error.
type teePublisher []enricher.Publisher

func (t teePublisher) PublishEnrichment(ctx context.Context, msg bus.EnrichmentMessage) error {
	var first error
	for _, p := range t {
		if err := p.PublishEnrichment(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
