package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"kinobot/internal/util"
	"kinobot/pkg/domain"
	"kinobot/pkg/storage"
	"kinobot/pkg/store"
)

// LegacySource yields pre-migration movie records. A source with nothing to
// offer returns an empty slice, not an error.
type LegacySource interface {
	Name() string
	Load(ctx context.Context) ([]domain.LegacyMovie, error)
}

// StoreLegacySource reads movies that still carry inline media columns.
type StoreLegacySource struct {
	Store store.LegacyStore
}

func (s StoreLegacySource) Name() string { return "store" }

func (s StoreLegacySource) Load(ctx context.Context) ([]domain.LegacyMovie, error) {
	return s.Store.ListLegacyMovies(ctx)
}

// JSONFileSource reads a legacy movies.json catalog from disk.
type JSONFileSource struct {
	Path string
}

func (s JSONFileSource) Name() string { return "json:" + s.Path }

func (s JSONFileSource) Load(_ context.Context) ([]domain.LegacyMovie, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open legacy catalog: %w", err)
	}
	defer f.Close()
	return DecodeLegacyCatalog(f)
}

// ObjectSource reads a legacy catalog snapshot from object storage.
type ObjectSource struct {
	Objects storage.ObjectStore
	Key     string
}

func (s ObjectSource) Name() string { return "object:" + s.Key }

func (s ObjectSource) Load(ctx context.Context) ([]domain.LegacyMovie, error) {
	rc, err := s.Objects.Get(ctx, s.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get legacy snapshot: %w", err)
	}
	defer rc.Close()
	return DecodeLegacyCatalog(rc)
}

// DecodeLegacyCatalog parses the code-keyed catalog format, sorted by code.
func DecodeLegacyCatalog(r io.Reader) ([]domain.LegacyMovie, error) {
	var raw map[string]domain.LegacyMovie
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode legacy catalog: %w", err)
	}
	out := make([]domain.LegacyMovie, 0, len(raw))
	for code, movie := range raw {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		movie.Code = code
		out = append(out, movie)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// EncodeLegacyCatalog writes movies in the format DecodeLegacyCatalog reads.
func EncodeLegacyCatalog(w io.Writer, movies []domain.LegacyMovie) error {
	raw := make(map[string]domain.LegacyMovie, len(movies))
	for _, m := range movies {
		raw[m.Code] = m
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

type MigrationReport struct {
	AlreadyDone  bool
	Movies       int
	PartsCreated int
	// Sources counts records read per source name.
	Sources map[string]int
}

// Migrator converts legacy records into parts once per deployment.
type Migrator struct {
	mu       sync.Mutex
	settings store.SettingsStore
	legacy   store.LegacyStore
	sources  []LegacySource
}

func NewMigrator(st store.Store, sources ...LegacySource) *Migrator {
	if len(sources) == 0 {
		sources = []LegacySource{StoreLegacySource{Store: st}}
	}
	return &Migrator{settings: st, legacy: st, sources: sources}
}

// Run is a no-op once the completion flag is set. The flag is only set after
// every source loaded and converted without error, so a failed run can be
// retried.
func (m *Migrator) Run(ctx context.Context) (MigrationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := MigrationReport{Sources: map[string]int{}}
	done, err := m.settings.MigrationDone(ctx)
	if err != nil {
		return report, fmt.Errorf("read migration flag: %w", err)
	}
	if done {
		report.AlreadyDone = true
		return report, nil
	}
	seen := make(map[string]struct{})
	for _, src := range m.sources {
		records, err := src.Load(ctx)
		if err != nil {
			return report, fmt.Errorf("load %s: %w", src.Name(), err)
		}
		report.Sources[src.Name()] = len(records)
		for _, rec := range records {
			created, err := m.legacy.ConvertLegacyMovie(ctx, rec)
			if err != nil {
				return report, fmt.Errorf("convert %s: %w", rec.Code, err)
			}
			if _, ok := seen[rec.Code]; !ok {
				seen[rec.Code] = struct{}{}
				report.Movies++
			}
			report.PartsCreated += created
		}
	}
	if err := m.settings.SetMigrationDone(ctx); err != nil {
		return report, fmt.Errorf("set migration flag: %w", err)
	}
	util.LoggerFromContext(ctx).Info("migration_finished", "movies", report.Movies, "parts_created", report.PartsCreated)
	return report, nil
}
