package badger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"snapfeed/internal/blob/core"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) { //nolint:cyclop
	ctx := context.Background()
	store := newMemStore(t)
	if store.Driver() != core.DriverBadger {
		t.Fatalf("expected badger driver")
	}
	info, err := store.Put(ctx, "delta/00000000000000000010", bytes.NewReader([]byte("payload")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"to": "20"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" || info.Metadata["to"] != "20" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "delta/00000000000000000010", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate failure")
	}
	h, err := store.Head(ctx, "delta/00000000000000000010")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h.Metadata["to"] != "20" || h.ETag != info.ETag {
		t.Fatalf("head mismatch: %+v", h)
	}
	g, rc, err := store.Get(ctx, "delta/00000000000000000010")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "payload" || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}
	list, err := store.List(ctx, "delta/")
	if err != nil || len(list) != 1 || list[0].Key != "delta/00000000000000000010" {
		t.Fatalf("list: %v %+v", err, list)
	}
	ok, err := store.Delete(ctx, "delta/00000000000000000010")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "delta/00000000000000000010")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListSkipsMetaRecordsAndSorts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	for _, key := range []string{"announce/2", "announce/1", "snapshot/1"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "announce/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "announce/1" || list[1].Key != "announce/2" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Put(ctx, "snapshot/1", bytes.NewReader([]byte("kept")), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("repeated close: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	info, rc, err := reopened.Get(ctx, "snapshot/1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "kept" || info.ContentType != "application/json" {
		t.Fatalf("data lost across reopen: %q %+v", b, info)
	}
}

func TestStore_ContextCancelled(t *testing.T) {
	store := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected context error")
	}
	if _, err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
}
