package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"snapfeed/internal/announce"
	"snapfeed/internal/blob"
	"snapfeed/internal/transitions"
	"snapfeed/pkg/feed"
	"snapfeed/pkg/feed/memstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedFeedProducesFollowableChain(t *testing.T) {
	store := blob.NewMemory()
	if err := seedFeed(context.Background(), store, discardLogger()); err != nil {
		t.Fatalf("seedFeed: %v", err)
	}

	retriever := transitions.NewRetriever(store)
	latest, err := retriever.LatestAnnounced(context.Background())
	if err != nil || latest != 3 {
		t.Fatalf("latest announced = %d, %v, want 3", latest, err)
	}

	client, err := feed.New(feed.Config{
		Retriever: retriever,
		Graph:     retriever,
		Announcer: announce.NewStatic(latest),
		NewState:  memstate.NewState,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if client.CurrentVersion() != 3 {
		t.Fatalf("at %d, want 3", client.CurrentVersion())
	}

	engine := client.State().Engine().(*memstate.Engine)
	if engine.Count("Movie") == 0 {
		t.Fatal("seeded dataset is empty")
	}

	// Every announced version must be loadable by a consumer starting from
	// scratch, whose initial plan is always a single snapshot.
	for v := feed.Version(1); v <= latest; v++ {
		fresh, err := feed.New(feed.Config{
			Retriever: retriever,
			Graph:     retriever,
			Announcer: announce.NewStatic(v),
			NewState:  memstate.NewState,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := fresh.Refresh(context.Background()); err != nil {
			t.Fatalf("fresh refresh to %d: %v", v, err)
		}
		if fresh.CurrentVersion() != v {
			t.Fatalf("fresh consumer at %d, want %d", fresh.CurrentVersion(), v)
		}
	}
}

func TestSeedFeedRefusesDoubleSeed(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	if err := seedFeed(ctx, store, discardLogger()); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := seedFeed(ctx, store, discardLogger()); err == nil {
		t.Fatal("seeding over an existing feed should fail on immutable blobs")
	}
}

func TestSeededChainSupportsDowngrade(t *testing.T) {
	store := blob.NewMemory()
	if err := seedFeed(context.Background(), store, discardLogger()); err != nil {
		t.Fatalf("seedFeed: %v", err)
	}
	retriever := transitions.NewRetriever(store)
	ann := announce.NewStatic(3)
	client, err := feed.New(feed.Config{
		Retriever: retriever,
		Graph:     retriever,
		Announcer: ann,
		NewState:  memstate.NewState,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := client.RefreshTo(context.Background(), 1); err != nil {
		t.Fatalf("RefreshTo: %v", err)
	}
	if client.CurrentVersion() != 1 {
		t.Fatalf("at %d after downgrade, want 1", client.CurrentVersion())
	}
}
