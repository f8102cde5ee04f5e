package gamelog

import (
	"context"
	"strings"
	"testing"

	"github.com/louisbranch/arbiter.games/internal/platform/errors"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleLog(session string, epoch int64) *Gamelog {
	return &Gamelog{
		GameName:    "Stonepile",
		GameSession: session,
		Epoch:       epoch,
		RandomSeed:  "seed",
		Winners:     []Result{{Index: 0, ID: "0", Name: "alice", Reason: "took the last stone"}},
		Losers:      []Result{{Index: 1, ID: "1", Name: "bob", Reason: "opponent took the last stone"}},
		Deltas: []Delta{
			{Type: "start", Game: map[string]any{"name": "Stonepile"}},
			{Type: "over", Game: map[string]any{"over": true}},
		},
	}
}

func TestWriteThenRead(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	filename, err := store.Write(ctx, sampleLog("abc", 1234))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filename != "1234-Stonepile-abc.json.lz4" {
		t.Fatalf("filename = %q", filename)
	}

	got, err := store.Read(ctx, filename)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.GameSession != "abc" || got.RandomSeed != "seed" {
		t.Fatalf("read back wrong log: %+v", got)
	}
	if len(got.Deltas) != 2 || got.Deltas[1].Type != "over" {
		t.Fatalf("deltas did not survive the round trip: %+v", got.Deltas)
	}
	if len(got.Winners) != 1 || got.Winners[0].Name != "alice" {
		t.Fatalf("winners did not survive the round trip: %+v", got.Winners)
	}
}

func TestWriteSanitizesSession(t *testing.T) {
	store := openStore(t)

	filename, err := store.Write(context.Background(), sampleLog("../../etc/passwd", 1))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		t.Fatalf("filename %q can escape the gamelog dir", filename)
	}
}

func TestLookupLatestAndExact(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, epoch := range []int64{100, 300, 200} {
		if _, err := store.Write(ctx, sampleLog("s1", epoch)); err != nil {
			t.Fatalf("Write epoch %d: %v", epoch, err)
		}
	}

	latest, err := store.Lookup(ctx, "Stonepile", "s1", 0)
	if err != nil {
		t.Fatalf("Lookup latest: %v", err)
	}
	if latest.Epoch != 300 {
		t.Fatalf("latest epoch = %d, want 300", latest.Epoch)
	}

	exact, err := store.Lookup(ctx, "Stonepile", "s1", 100)
	if err != nil {
		t.Fatalf("Lookup exact: %v", err)
	}
	if exact.Epoch != 100 {
		t.Fatalf("exact epoch = %d, want 100", exact.Epoch)
	}

	_, err = store.Lookup(ctx, "Stonepile", "missing", 0)
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("missing session error = %v, want not found", err)
	}
}

func TestReadRejectsPathTraversal(t *testing.T) {
	store := openStore(t)
	_, err := store.Read(context.Background(), "../index.db")
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("traversal error = %v, want not found", err)
	}
}

func TestListOrdersByEpoch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, sampleLog("s1", 100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Write(ctx, sampleLog("s2", 200)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d entries, want 2", len(entries))
	}
	if entries[0].Epoch != 200 || entries[1].Epoch != 100 {
		t.Fatalf("entries out of order: %+v", entries)
	}
}

func TestReindexRecoversLostIndex(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	filename, err := first.Write(ctx, sampleLog("s1", 100))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate a lost index by dropping the rows, not the files.
	if _, err := first.sqlDB.Exec("DELETE FROM gamelogs"); err != nil {
		t.Fatalf("clear index: %v", err)
	}
	if _, err := first.Lookup(ctx, "Stonepile", "s1", 0); err == nil {
		t.Fatal("lookup should fail with a cleared index")
	}

	count, err := first.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if count != 1 {
		t.Fatalf("reindexed %d files, want 1", count)
	}
	got, err := first.Lookup(ctx, "Stonepile", "s1", 0)
	if err != nil {
		t.Fatalf("Lookup after reindex: %v", err)
	}
	if got.Filename() != filename {
		t.Fatalf("reindexed filename = %q, want %q", got.Filename(), filename)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
