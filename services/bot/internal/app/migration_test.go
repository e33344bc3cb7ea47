package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kinobot/pkg/domain"
	"kinobot/pkg/storage"
	"kinobot/pkg/store"
)

const legacyCatalog = `{
  "B2": {"title": "Serial", "views": 7, "parts": [
    {"title": "1-qism", "description": "d1", "video": "p1"},
    {"title": "", "description": "d2", "video": "p2"},
    {"title": "empty", "video": ""}
  ]},
  "B1": {"title": "Film", "description": "about", "video": "x", "views": 3}
}`

type errSource struct{}

func (errSource) Name() string { return "broken" }

func (errSource) Load(context.Context) ([]domain.LegacyMovie, error) {
	return nil, errors.New("permission denied")
}

func TestDecodeLegacyCatalogSortsByCode(t *testing.T) {
	movies, err := DecodeLegacyCatalog(strings.NewReader(legacyCatalog))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(movies) != 2 || movies[0].Code != "B1" || movies[1].Code != "B2" {
		t.Fatalf("unexpected movies: %+v", movies)
	}
	if movies[0].MediaRef != "x" || movies[0].Views != 3 {
		t.Fatalf("inline fields lost: %+v", movies[0])
	}
	if got := len(movies[1].CanonicalParts()); got != 2 {
		t.Fatalf("expected 2 canonical parts, got %d", got)
	}
}

func TestJSONFileSourceMissingFile(t *testing.T) {
	src := JSONFileSource{Path: filepath.Join(t.TempDir(), "movies.json")}
	movies, err := src.Load(context.Background())
	if err != nil || len(movies) != 0 {
		t.Fatalf("missing file must yield no records: %v %v", movies, err)
	}
}

func TestMigratorImportsJSONCatalogOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "movies.json")
	if err := os.WriteFile(path, []byte(legacyCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	st := store.NewMemoryStore()
	st.PutLegacyMovie(domain.LegacyMovie{Code: "C1", Title: "Old", MediaRef: "c"})
	m := NewMigrator(st, StoreLegacySource{Store: st}, JSONFileSource{Path: path})

	report, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.AlreadyDone || report.Movies != 3 || report.PartsCreated != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Sources["store"] != 1 || report.Sources["json:"+path] != 2 {
		t.Fatalf("unexpected source counts: %+v", report.Sources)
	}

	b1, ok, err := st.GetMovie(ctx, "B1")
	if err != nil || !ok {
		t.Fatalf("B1 missing: %v", err)
	}
	if len(b1.Parts) != 1 || b1.Parts[0].MediaRef != "x" || b1.Parts[0].Description != "about" || b1.Views != 3 {
		t.Fatalf("unexpected B1: %+v", b1)
	}
	b2, _, _ := st.GetMovie(ctx, "B2")
	if len(b2.Parts) != 2 || b2.Parts[1].Title != "Serial" {
		t.Fatalf("unexpected B2 parts: %+v", b2.Parts)
	}
	legacy, err := st.ListLegacyMovies(ctx)
	if err != nil || len(legacy) != 0 {
		t.Fatalf("inline fields must be cleared: %+v %v", legacy, err)
	}

	again, err := m.Run(ctx)
	if err != nil || !again.AlreadyDone {
		t.Fatalf("second run must be a no-op: %+v %v", again, err)
	}
	b2again, _, _ := st.GetMovie(ctx, "B2")
	if len(b2again.Parts) != 2 {
		t.Fatalf("second run changed parts: %+v", b2again.Parts)
	}
}

func TestMigratorConversionIsIdempotentWithoutFlag(t *testing.T) {
	ctx := context.Background()
	movies, err := DecodeLegacyCatalog(strings.NewReader(legacyCatalog))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := store.NewMemoryStore()
	for i := 0; i < 2; i++ {
		for _, mv := range movies {
			if _, err := st.ConvertLegacyMovie(ctx, mv); err != nil {
				t.Fatalf("convert: %v", err)
			}
		}
	}
	b2, _, _ := st.GetMovie(ctx, "B2")
	if len(b2.Parts) != 2 {
		t.Fatalf("repeated conversion duplicated parts: %+v", b2.Parts)
	}
}

func TestMigratorSetsFlagWhenNothingToMigrate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	report, err := NewMigrator(st).Run(ctx)
	if err != nil || report.Movies != 0 {
		t.Fatalf("unexpected: %+v %v", report, err)
	}
	done, err := st.MigrationDone(ctx)
	if err != nil || !done {
		t.Fatalf("flag must be set: %v %v", done, err)
	}
}

func TestMigratorLoadErrorLeavesFlagUnset(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if _, err := NewMigrator(st, errSource{}).Run(ctx); err == nil {
		t.Fatalf("expected load error")
	}
	done, err := st.MigrationDone(ctx)
	if err != nil || done {
		t.Fatalf("flag must stay unset: %v %v", done, err)
	}
}

func TestObjectSource(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	src := ObjectSource{Objects: objects, Key: "legacy/movies.json"}

	movies, err := src.Load(ctx)
	if err != nil || len(movies) != 0 {
		t.Fatalf("missing object must yield no records: %v %v", movies, err)
	}
	if err := objects.Put(ctx, src.Key, strings.NewReader(legacyCatalog), int64(len(legacyCatalog)), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	movies, err = src.Load(ctx)
	if err != nil || len(movies) != 2 {
		t.Fatalf("unexpected: %v %v", movies, err)
	}
}

func TestBootstrapImportsCatalogBeforeFirstEvent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "movies.json")
	if err := os.WriteFile(path, []byte(legacyCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	st := store.NewMemoryStore()
	tr := &fakeTransport{failMedia: map[string]bool{}}
	a, err := New(Config{
		Store:     st,
		Transport: tr,
		Migrator:  NewMigrator(st, StoreLegacySource{Store: st}, JSONFileSource{Path: path}),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	report, err := a.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if report.AlreadyDone || report.Movies != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	for _, text := range []string{labelSearch, "B1"} {
		if err := a.Handle(ctx, TextEvent{UserID: 1, ChatID: 1, Text: text}); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}
	if got := tr.media(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("imported movie not delivered: %v", got)
	}

	again, err := a.Bootstrap(ctx)
	if err != nil || !again.AlreadyDone {
		t.Fatalf("second bootstrap must be a no-op: %+v %v", again, err)
	}
}

func TestBootstrapFailureLeavesFlagUnset(t *testing.T) {
	st := store.NewMemoryStore()
	a, err := New(Config{Store: st, Transport: &fakeTransport{}, Migrator: NewMigrator(st, errSource{})})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.Bootstrap(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if done, _ := st.MigrationDone(context.Background()); done {
		t.Fatalf("flag must stay unset after a failed run")
	}
}
