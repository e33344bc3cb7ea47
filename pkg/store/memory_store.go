package store

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"kinobot/pkg/domain"
)

type memoryMovie struct {
	movie       domain.Movie
	legacyMedia *string
	legacyDescr *string
	legacyParts []domain.LegacyPart
}

// MemoryStore keeps the catalog in-process. Used when no DATABASE_URL is set
// and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	movies        map[string]*memoryMovie
	orders        []string
	nextPartID    int64
	channels      []domain.ChannelRequirement
	migrationDone bool
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{movies: make(map[string]*memoryMovie)}
}

// PutLegacyMovie stores a pre-migration record with its inline fields, as an
// old deployment would have left it.
func (m *MemoryStore) PutLegacyMovie(legacy domain.LegacyMovie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm := m.ensureMovieLocked(legacy.Code, legacy.Title, legacy.Views)
	media := legacy.MediaRef
	descr := legacy.Description
	mm.legacyMedia = &media
	mm.legacyDescr = &descr
	mm.legacyParts = append([]domain.LegacyPart(nil), legacy.Parts...)
}

func (m *MemoryStore) ensureMovieLocked(code, title string, views int64) *memoryMovie {
	mm, ok := m.movies[code]
	if !ok {
		mm = &memoryMovie{movie: domain.Movie{Code: code, Title: title, Views: views, CreatedAt: time.Now().UTC()}}
		m.movies[code] = mm
		m.orders = append(m.orders, code)
		return mm
	}
	if strings.TrimSpace(mm.movie.Title) == "" && strings.TrimSpace(title) != "" {
		mm.movie.Title = title
	}
	return mm
}

func (m *MemoryStore) appendPartLocked(mm *memoryMovie, title, description, mediaRef string) domain.Part {
	m.nextPartID++
	part := domain.Part{
		ID:          m.nextPartID,
		MovieCode:   mm.movie.Code,
		Title:       title,
		Description: description,
		MediaRef:    mediaRef,
		CreatedAt:   time.Now().UTC(),
	}
	mm.movie.Parts = append(mm.movie.Parts, part)
	return part
}

func findMedia(parts []domain.Part, mediaRef string) (domain.Part, bool) {
	for _, p := range parts {
		if p.MediaRef == mediaRef {
			return p, true
		}
	}
	return domain.Part{}, false
}

func (m *MemoryStore) UpsertPart(_ context.Context, code, title, description, mediaRef string) (UpsertResult, error) {
	code = strings.TrimSpace(code)
	mediaRef = strings.TrimSpace(mediaRef)
	if code == "" {
		return UpsertResult{}, ErrEmptyCode
	}
	if mediaRef == "" {
		return UpsertResult{Status: UpsertNoMedia}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mm := m.ensureMovieLocked(code, title, 0)
	if existing, ok := findMedia(mm.movie.Parts, mediaRef); ok {
		return UpsertResult{Status: UpsertDuplicate, Part: existing}, nil
	}
	part := m.appendPartLocked(mm, title, description, mediaRef)
	return UpsertResult{Status: UpsertAdded, Part: part}, nil
}

func (m *MemoryStore) GetMovie(_ context.Context, code string) (domain.Movie, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm, ok := m.movies[code]
	if !ok {
		return domain.Movie{}, false, nil
	}
	return copyMovie(mm.movie), true, nil
}

func copyMovie(movie domain.Movie) domain.Movie {
	out := movie
	out.Parts = append([]domain.Part(nil), movie.Parts...)
	return out
}

func (m *MemoryStore) ListMovies(_ context.Context) ([]domain.MovieSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MovieSummary, 0, len(m.orders))
	for _, code := range m.orders {
		mm, ok := m.movies[code]
		if !ok {
			continue
		}
		out = append(out, domain.MovieSummary{
			Code:      mm.movie.Code,
			Title:     mm.movie.Title,
			Views:     mm.movie.Views,
			PartCount: len(mm.movie.Parts),
		})
	}
	return out, nil
}

func (m *MemoryStore) IncrementViews(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm, ok := m.movies[code]; ok {
		mm.movie.Views++
	}
	return nil
}

func (m *MemoryStore) DeleteMovie(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.movies[code]; !ok {
		return false, nil
	}
	delete(m.movies, code)
	for i, c := range m.orders {
		if c == code {
			m.orders = append(m.orders[:i], m.orders[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStore) DeletePart(_ context.Context, code string, index int) (domain.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.movies[code]
	if !ok {
		return domain.Part{}, ErrMovieNotFound
	}
	if index < 0 || index >= len(mm.movie.Parts) {
		return domain.Part{}, ErrPartOutOfRange
	}
	removed := mm.movie.Parts[index]
	mm.movie.Parts = append(mm.movie.Parts[:index:index], mm.movie.Parts[index+1:]...)
	return removed, nil
}

func (m *MemoryStore) RebindPartMedia(_ context.Context, code string, index *int, mediaRef string) (RebindResult, error) {
	mediaRef = strings.TrimSpace(mediaRef)
	if mediaRef == "" {
		return RebindResult{}, ErrEmptyMedia
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.movies[code]
	if !ok {
		return RebindResult{}, ErrMovieNotFound
	}
	target, ok, err := rebindTarget(len(mm.movie.Parts), index)
	if err != nil {
		return RebindResult{}, err
	}
	if existing, dup := findMedia(mm.movie.Parts, mediaRef); dup && (!ok || mm.movie.Parts[target].ID != existing.ID) {
		return RebindResult{}, ErrDuplicateMedia
	}
	if !ok {
		part := m.appendPartLocked(mm, code, "", mediaRef)
		return RebindResult{Part: part, Created: true}, nil
	}
	mm.movie.Parts[target].MediaRef = mediaRef
	return RebindResult{Part: mm.movie.Parts[target]}, nil
}

func (m *MemoryStore) RandomPart(_ context.Context) (domain.Movie, domain.Part, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]*memoryMovie, 0, len(m.movies))
	for _, code := range m.orders {
		if mm, ok := m.movies[code]; ok && len(mm.movie.Parts) > 0 {
			candidates = append(candidates, mm)
		}
	}
	if len(candidates) == 0 {
		return domain.Movie{}, domain.Part{}, false, nil
	}
	movie := copyMovie(candidates[rand.IntN(len(candidates))].movie)
	return movie, movie.Parts[rand.IntN(len(movie.Parts))], true, nil
}

func (m *MemoryStore) GetChannels(_ context.Context) ([]domain.ChannelRequirement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ChannelRequirement(nil), m.channels...), nil
}

func (m *MemoryStore) ReplaceChannels(_ context.Context, channels []domain.ChannelRequirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append([]domain.ChannelRequirement(nil), channels...)
	return nil
}

func (m *MemoryStore) MigrationDone(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.migrationDone, nil
}

func (m *MemoryStore) SetMigrationDone(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrationDone = true
	return nil
}

func (m *MemoryStore) ListLegacyMovies(_ context.Context) ([]domain.LegacyMovie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LegacyMovie
	for _, code := range m.orders {
		mm, ok := m.movies[code]
		if !ok || mm.legacyMedia == nil {
			continue
		}
		legacy := domain.LegacyMovie{
			Code:     mm.movie.Code,
			Title:    mm.movie.Title,
			Views:    mm.movie.Views,
			MediaRef: *mm.legacyMedia,
			Parts:    append([]domain.LegacyPart(nil), mm.legacyParts...),
		}
		if mm.legacyDescr != nil {
			legacy.Description = *mm.legacyDescr
		}
		out = append(out, legacy)
	}
	return out, nil
}

func (m *MemoryStore) ConvertLegacyMovie(_ context.Context, legacy domain.LegacyMovie) (int, error) {
	code := strings.TrimSpace(legacy.Code)
	if code == "" {
		return 0, ErrEmptyCode
	}
	title := legacy.Title
	if strings.TrimSpace(title) == "" {
		title = code
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mm := m.ensureMovieLocked(code, title, legacy.Views)
	created := 0
	for _, p := range legacy.CanonicalParts() {
		if _, dup := findMedia(mm.movie.Parts, p.MediaRef); dup {
			continue
		}
		m.appendPartLocked(mm, p.Title, p.Description, p.MediaRef)
		created++
	}
	mm.legacyMedia = nil
	mm.legacyDescr = nil
	mm.legacyParts = nil
	return created, nil
}
