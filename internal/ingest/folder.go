package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/bus"
	"github.com/Ashfaaq98/assetintel/internal/ocsf"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// FolderOptions controls folder ingest behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.jsonl", "*.json"}
	Logger   *log.Logger
	// When true and in Watch mode, start JSONL files at EOF on startup to avoid
	// re-processing existing lines each time the worker starts.
	TailFromEnd bool
}

// Stats counts processed and failed events.
type Stats struct {
	Ingested int
	Errors   int
}

// FolderIngestor feeds OCSF events from a directory (one-shot or watch mode)
// to a handler.
type FolderIngestor struct {
	handler bus.EventHandler
	opts    FolderOptions

	offsets map[string]int64 // per-file tail offset for jsonl
	mu      sync.Mutex
	stats   Stats
}

// NewFolderIngestor constructs a folder ingestor. handler is usually an
// enricher's HandleEvent or a bus publisher.
func NewFolderIngestor(handler bus.EventHandler, opts FolderOptions) *FolderIngestor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[watch] ", log.LstdFlags)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.jsonl", "*.json"}
	}
	return &FolderIngestor{
		handler: handler,
		opts:    opts,
		offsets: make(map[string]int64),
	}
}

// PublishTo returns a handler that forwards events to the bus events stream.
func PublishTo(b bus.Bus) bus.EventHandler {
	return func(ctx context.Context, ev bus.EventMessage) error {
		return b.PublishEvent(ctx, ev)
	}
}

// Run executes the ingestion per options (one-shot or watch).
func (fi *FolderIngestor) Run(ctx context.Context) error {
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		st := fi.Stats()
		fi.opts.Logger.Printf("Completed one-shot ingest: ingested=%d errors=%d", st.Ingested, st.Errors)
		return nil
	}

	return fi.watchLoop(ctx)
}

// Stats returns the running counters.
func (fi *FolderIngestor) Stats() Stats {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.stats
}

func (fi *FolderIngestor) count(ok bool) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if ok {
		fi.stats.Ingested++
	} else {
		fi.stats.Errors++
	}
}

func (fi *FolderIngestor) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func (fi *FolderIngestor) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !fi.matches(e.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		lower := strings.ToLower(e.Name())
		switch {
		case strings.HasSuffix(lower, ".jsonl"):
			if fi.opts.Watch && fi.opts.TailFromEnd {
				if st, err := os.Stat(path); err == nil {
					fi.setOffset(path, st.Size())
				}
				// watchLoop tails new lines only.
				continue
			}
			offset, err := fi.processJSONL(ctx, path, 0)
			if err != nil {
				fi.opts.Logger.Printf("error processing %s: %v", path, err)
				fi.count(false)
			}
			fi.setOffset(path, offset)
		case strings.HasSuffix(lower, ".json"):
			if err := fi.processJSONFile(ctx, path); err != nil {
				fi.opts.Logger.Printf("error processing %s: %v", path, err)
				fi.count(false)
			}
		}
	}
	return nil
}

func (fi *FolderIngestor) offset(path string) int64 {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.offsets[path]
}

func (fi *FolderIngestor) setOffset(path string, off int64) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.offsets[path] = off
}

func (fi *FolderIngestor) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.opts.Logger.Printf("Watching directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st := fi.Stats()
			fi.opts.Logger.Printf("Watch stopping: ingested=%d errors=%d", st.Ingested, st.Errors)
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !fi.matches(name) {
				continue
			}
			lower := strings.ToLower(name)

			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				switch {
				case strings.HasSuffix(lower, ".jsonl"):
					newOffset, err := fi.processJSONL(ctx, ev.Name, fi.offset(ev.Name))
					if err != nil {
						fi.opts.Logger.Printf("error tailing %s: %v", ev.Name, err)
						fi.count(false)
						continue
					}
					fi.setOffset(ev.Name, newOffset)
				case strings.HasSuffix(lower, ".json"):
					// Re-process entire file on write
					if err := fi.processJSONFile(ctx, ev.Name); err != nil {
						fi.opts.Logger.Printf("error processing %s: %v", ev.Name, err)
						fi.count(false)
					}
				}
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fi.mu.Lock()
				delete(fi.offsets, ev.Name)
				fi.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fi.opts.Logger.Printf("watch error: %v", err)
		case <-ticker.C:
			st := fi.Stats()
			fi.opts.Logger.Printf("Watch progress: ingested=%d errors=%d", st.Ingested, st.Errors)
		}
	}
}

// processJSONL handles complete lines from startOffset and returns the offset
// after the last line consumed. In watch mode a trailing partial line is left
// for the next write event.
func (fi *FolderIngestor) processJSONL(ctx context.Context, path string, startOffset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		// File might be transiently missing (rename/rotate)
		return startOffset, err
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil && st.Size() < startOffset {
		// Truncated
		startOffset = 0
	}
	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			return startOffset, err
		}
	}

	reader := bufio.NewReaderSize(f, 1024*1024)
	offset := startOffset
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// One-shot runs take the unterminated last line as well.
			if len(line) == 0 || fi.opts.Watch {
				return offset, nil
			}
		} else if err != nil {
			return offset, err
		}
		offset += int64(len(line))

		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		if err := fi.processEventJSON(ctx, []byte(trimmed)); err != nil {
			fi.opts.Logger.Printf("parse error in %s: %v", path, err)
			fi.count(false)
			continue
		}
		fi.count(true)
	}
}

func (fi *FolderIngestor) processJSONFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	trim := strings.TrimSpace(string(data))
	if trim == "" {
		return nil
	}

	// If array, iterate; else parse single
	if strings.HasPrefix(trim, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(trim), &arr); err != nil {
			return err
		}
		for _, raw := range arr {
			if err := fi.processEventJSON(ctx, raw); err != nil {
				fi.opts.Logger.Printf("parse error in %s: %v", path, err)
				fi.count(false)
				continue
			}
			fi.count(true)
		}
		return nil
	}

	if err := fi.processEventJSON(ctx, []byte(trim)); err != nil {
		return err
	}
	fi.count(true)
	return nil
}

func (fi *FolderIngestor) processEventJSON(ctx context.Context, raw []byte) error {
	ev, err := ocsf.Parse(raw)
	if err != nil {
		return err
	}

	eventID := ev.ID()
	if eventID == "" {
		eventID = uuid.New().String()
	}

	return fi.handler(ctx, bus.EventMessage{
		EventID:   eventID,
		EventType: string(ev.GetEventType()),
		RawJSON:   string(raw),
		Timestamp: ev.Timestamp(),
	})
}
