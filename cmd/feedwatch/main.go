// Command feedwatch follows a published dataset feed: it refreshes a local
// copy whenever a new version is announced and exposes refresh metrics. With
// -seed it publishes a small demonstration feed instead, so a blob store can
// be exercised end to end without a producer pipeline.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snapfeed/internal/announce"
	"snapfeed/internal/blob"
	"snapfeed/internal/observability"
	"snapfeed/internal/transitions"
	"snapfeed/pkg/feed"
	"snapfeed/pkg/feed/memstate"
)

var exitFunc = os.Exit

func main() {
	var (
		seed         = flag.Bool("seed", false, "publish a demonstration feed and exit")
		once         = flag.Bool("once", false, "refresh to the latest announcement and exit")
		announceFile = flag.String("announce-file", "", "follow announcements from a file instead of the blob store")
		pollInterval = flag.Duration("poll", 10*time.Second, "blob store announcement poll interval")
		metricsAddr  = flag.String("metrics-addr", ":9141", "listen address for /metrics (empty disables)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger, options{
		seed:         *seed,
		once:         *once,
		announceFile: *announceFile,
		pollInterval: *pollInterval,
		metricsAddr:  *metricsAddr,
	}); err != nil {
		logger.Error("feedwatch failed", "error", err)
		exitFunc(1)
	}
}

type options struct {
	seed         bool
	once         bool
	announceFile string
	pollInterval time.Duration
	metricsAddr  string
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	if opts.seed {
		return seedFeed(ctx, store, logger)
	}

	retriever := transitions.NewRetriever(store)
	var announcer feed.Announcer
	if opts.announceFile != "" {
		announcer = announce.NewFile(opts.announceFile)
	} else {
		announcer = announce.NewStoreWatcher(retriever, opts.pollInterval)
	}

	registry := prometheus.NewRegistry()
	client, err := feed.New(feed.Config{
		Retriever: retriever,
		Graph:     retriever,
		Announcer: announcer,
		NewState:  memstate.NewState,
		Listeners: []feed.Listener{
			observability.NewLogListener(logger),
			observability.NewMetricsListener(registry),
		},
	})
	if err != nil {
		return fmt.Errorf("configure client: %w", err)
	}

	if err := client.Refresh(ctx); err != nil {
		logger.Warn("initial refresh failed", "error", err)
	}
	if opts.once {
		return nil
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	watcher, ok := announcer.(feed.Watcher)
	if !ok {
		return fmt.Errorf("announcer does not support watching")
	}
	logger.Info("following announcements", "poll", opts.pollInterval.String())
	err = watcher.Watch(ctx, func(v feed.Version) {
		logger.Info("announced", "version", int64(v))
		client.RefreshAsync()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedFeed publishes a three-version demonstration chain: a snapshot per
// version so a fresh consumer can load at any announcement, deltas 1->2->3,
// reverse deltas back, and announcements for each version.
func seedFeed(ctx context.Context, store blob.Store, logger *slog.Logger) error {
	pub := transitions.NewPublisher(store)

	pilot := memstate.Record{Key: "1", Fields: map[string]any{"title": "The Pilot", "year": 2024}}
	second := memstate.Record{Key: "2", Fields: map[string]any{"title": "Second Season", "year": 2025}}
	finale := memstate.Record{Key: "3", Fields: map[string]any{"title": "The Finale", "year": 2026}}
	states := map[feed.Version]map[string][]memstate.Record{
		1: {"Movie": {pilot, second}},
		2: {"Movie": {pilot, second, finale}},
		3: {"Movie": {second, finale}},
	}
	for v := feed.Version(1); v <= 3; v++ {
		snap, err := memstate.EncodeSnapshot(v, states[v])
		if err != nil {
			return err
		}
		if err := pub.PublishSnapshot(ctx, v, bytes.NewReader(snap)); err != nil {
			return fmt.Errorf("publish snapshot %d: %w", v, err)
		}
	}

	type hop struct {
		from, to feed.Version
		changes  map[string]memstate.Change
		undo     map[string]memstate.Change
	}
	hops := []hop{
		{
			from: 1, to: 2,
			changes: map[string]memstate.Change{"Movie": {Upserts: []memstate.Record{finale}}},
			undo:    map[string]memstate.Change{"Movie": {Removes: []string{"3"}}},
		},
		{
			from: 2, to: 3,
			changes: map[string]memstate.Change{"Movie": {Removes: []string{"1"}}},
			undo:    map[string]memstate.Change{"Movie": {Upserts: []memstate.Record{pilot}}},
		},
	}
	for _, h := range hops {
		delta, err := memstate.EncodeDelta(h.from, h.to, h.changes)
		if err != nil {
			return err
		}
		if err := pub.PublishDelta(ctx, h.from, h.to, bytes.NewReader(delta)); err != nil {
			return fmt.Errorf("publish delta %d->%d: %w", h.from, h.to, err)
		}
		reverse, err := memstate.EncodeReverseDelta(h.to, h.from, h.undo)
		if err != nil {
			return err
		}
		if err := pub.PublishReverseDelta(ctx, h.to, h.from, bytes.NewReader(reverse)); err != nil {
			return fmt.Errorf("publish reverse delta %d->%d: %w", h.to, h.from, err)
		}
	}

	for v := feed.Version(1); v <= 3; v++ {
		if err := pub.Announce(ctx, v); err != nil {
			return fmt.Errorf("announce %d: %w", v, err)
		}
	}
	logger.Info("seeded demonstration feed", "versions", 3)
	return nil
}
