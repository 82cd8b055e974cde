package gridmeta

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/mcdev12/tabletop/go/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreInDir(filepath.Join(t.TempDir(), "maps"))
}

func TestReadAllMissingDocumentIsEmpty(t *testing.T) {
	store := newTestStore(t)
	all, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty mapping, got %v", all)
	}
}

func TestReadAllCorruptDocumentIsEmpty(t *testing.T) {
	for name, content := range map[string]string{
		"invalid json": "{not json",
		"array":        "[1,2]",
		"null":         "null",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, DocumentName), []byte(content), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			all, err := NewStoreInDir(dir).ReadAll(context.Background())
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("expected empty mapping, got %v", all)
			}
		})
	}
}

func TestWriteThenReadAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	opacity := 0.5
	grid := session.GridSettings{
		Size:    60,
		Origin:  &session.Point{X: 3, Y: 4},
		Color:   "#fff",
		Opacity: &opacity,
	}

	if err := store.Write(ctx, "forest.png", grid); err != nil {
		t.Fatalf("Write: %v", err)
	}
	all, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	got := all["forest.png"].Grid
	if got == nil || !reflect.DeepEqual(*got, grid) {
		t.Fatalf("expected %+v, got %+v", grid, got)
	}

	single, err := store.Grid(ctx, "forest.png")
	if err != nil || single == nil || single.Size != 60 {
		t.Fatalf("Grid: %+v %v", single, err)
	}
	missing, err := store.Grid(ctx, "cave.png")
	if err != nil || missing != nil {
		t.Fatalf("expected no grid for cave.png, got %+v %v", missing, err)
	}
}

func TestWriteOverwritesAndKeepsOtherEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Write(ctx, "a.png", session.GridSettings{Size: 10}); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := store.Write(ctx, "b.png", session.GridSettings{Size: 20}); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := store.Write(ctx, "a.png", session.GridSettings{Size: 30}); err != nil {
		t.Fatalf("Write a again: %v", err)
	}

	all, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if all["a.png"].Grid.Size != 30 || all["b.png"].Grid.Size != 20 {
		t.Fatalf("unexpected mapping %+v", all)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Remove(ctx, "ghost.png"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("removing an absent entry must not create the document, stat err=%v", err)
	}

	if err := store.Write(ctx, "forest.png", session.GridSettings{Size: 60}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Remove(ctx, "forest.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	all, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if _, ok := all["forest.png"]; ok {
		t.Fatalf("expected forest.png removed, got %+v", all)
	}
}

func TestWriteRecoversFromCorruptDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, DocumentName)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := NewStore(path)
	if err := store.Write(ctx, "forest.png", session.GridSettings{Size: 60}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), `"forest.png"`) || !strings.Contains(string(data), "\n  ") {
		t.Fatalf("expected indented document with forest.png, got %s", data)
	}
}

func TestBadRecordDoesNotEraseOthers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, DocumentName)
	seed := `{"cave.png":{"grid":{"size":40},"notes":"keep me"},"legacy.png":{"grid":"bad"}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewStore(path)

	all, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 1 || all["cave.png"].Grid == nil || all["cave.png"].Grid.Size != 40 {
		t.Fatalf("expected only cave.png to decode, got %+v", all)
	}

	if err := store.Write(ctx, "forest.png", session.GridSettings{Size: 60}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "cave.png", session.GridSettings{Size: 45}); err != nil {
		t.Fatalf("Write cave: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode document: %v\n%s", err, data)
	}
	if string(doc["cave.png"]["notes"]) != `"keep me"` {
		t.Fatalf("cave.png lost its other fields: %s", data)
	}
	if string(doc["legacy.png"]["grid"]) != `"bad"` {
		t.Fatalf("untouched record was rewritten: %s", data)
	}

	all, err = store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll after write: %v", err)
	}
	if all["cave.png"].Grid.Size != 45 || all["forest.png"].Grid.Size != 60 {
		t.Fatalf("unexpected mapping %+v", all)
	}

	if err := store.Remove(ctx, "forest.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	grid, err := store.Grid(ctx, "legacy.png")
	if err != nil || grid != nil {
		t.Fatalf("expected no grid for the bad record, got %+v %v", grid, err)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "legacy.png") {
		t.Fatalf("remove dropped an unrelated record: %s", data)
	}
}

func TestConcurrentWritesWithinProcessAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	names := []string{"a.png", "b.png", "c.png", "d.png", "e.png", "f.png"}
	for i, name := range names {
		wg.Add(1)
		go func(name string, size float64) {
			defer wg.Done()
			if err := store.Write(ctx, name, session.GridSettings{Size: size}); err != nil {
				t.Errorf("Write %s: %v", name, err)
			}
		}(name, float64(i+1))
	}
	wg.Wait()

	all, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != len(names) {
		t.Fatalf("expected %d entries, got %d: %+v", len(names), len(all), all)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newTestStore(t).Write(ctx, "a.png", session.GridSettings{Size: 1}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
