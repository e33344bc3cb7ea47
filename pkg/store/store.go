package store

import (
	"context"
	"errors"

	"kinobot/pkg/domain"
)

var (
	// ErrPartOutOfRange indicates a 0-based part index outside the movie's parts.
	ErrPartOutOfRange = errors.New("part index out of range")
	// ErrMovieNotFound indicates the code does not address a movie.
	ErrMovieNotFound = errors.New("movie not found")
	// ErrDuplicateMedia indicates another part of the same movie already uses the media reference.
	ErrDuplicateMedia = errors.New("media already attached to another part")
	ErrEmptyCode      = errors.New("movie code required")
	ErrEmptyMedia     = errors.New("media reference required")
)

type UpsertStatus string

const (
	UpsertAdded     UpsertStatus = "added"
	UpsertDuplicate UpsertStatus = "duplicate"
	UpsertNoMedia   UpsertStatus = "no_media"
)

// UpsertResult reports what UpsertPart did. Part is the inserted part, or the
// already existing one when Status is UpsertDuplicate.
type UpsertResult struct {
	Status UpsertStatus
	Part   domain.Part
}

// RebindResult reports the part whose media was replaced. Created is set when
// the movie had no parts and a new one was appended instead.
type RebindResult struct {
	Part    domain.Part
	Created bool
}

// ContentStore owns movies, their parts and view counters.
type ContentStore interface {
	UpsertPart(ctx context.Context, code, title, description, mediaRef string) (UpsertResult, error)
	GetMovie(ctx context.Context, code string) (domain.Movie, bool, error)
	ListMovies(ctx context.Context) ([]domain.MovieSummary, error)
	IncrementViews(ctx context.Context, code string) error
	DeleteMovie(ctx context.Context, code string) (bool, error)
	DeletePart(ctx context.Context, code string, index int) (domain.Part, error)
	RebindPartMedia(ctx context.Context, code string, index *int, mediaRef string) (RebindResult, error)
	RandomPart(ctx context.Context) (domain.Movie, domain.Part, bool, error)
}

// SettingsStore keeps the channel requirement list and process-wide flags.
type SettingsStore interface {
	GetChannels(ctx context.Context) ([]domain.ChannelRequirement, error)
	ReplaceChannels(ctx context.Context, channels []domain.ChannelRequirement) error
	MigrationDone(ctx context.Context) (bool, error)
	SetMigrationDone(ctx context.Context) error
}

// LegacyStore exposes movies that still carry inline single-media fields.
type LegacyStore interface {
	ListLegacyMovies(ctx context.Context) ([]domain.LegacyMovie, error)
	// ConvertLegacyMovie creates the canonical parts for the record, skipping media
	// already attached to the movie, and clears any inline legacy fields. It returns
	// the number of parts created.
	ConvertLegacyMovie(ctx context.Context, legacy domain.LegacyMovie) (int, error)
}

// Store is the full persistence surface used by the bot.
type Store interface {
	ContentStore
	SettingsStore
	LegacyStore
}
