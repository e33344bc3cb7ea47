package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"kinobot/pkg/domain"
)

const migrateLockID int64 = 51820417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&MovieModel{}, &PartModel{}, &BotSettingsModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM part_models p
				WHERE NOT EXISTS (SELECT 1 FROM movie_models m WHERE m.code = p.movie_code);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'part_models'
					AND constraint_name = 'part_models_movie_code_fkey'
				) THEN
					ALTER TABLE part_models
					ADD CONSTRAINT part_models_movie_code_fkey
					FOREIGN KEY (movie_code) REFERENCES movie_models(code) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure part foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already opened connection without migrating.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertPart appends a part, creating the movie on first use. The unique
// (movie_code, media_ref) index makes concurrent duplicate ingestion a no-op.
func (s *GormStore) UpsertPart(ctx context.Context, code, title, description, mediaRef string) (UpsertResult, error) {
	code = strings.TrimSpace(code)
	mediaRef = strings.TrimSpace(mediaRef)
	if code == "" {
		return UpsertResult{}, ErrEmptyCode
	}
	if mediaRef == "" {
		return UpsertResult{Status: UpsertNoMedia}, nil
	}
	var result UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureMovie(tx, code, title, 0); err != nil {
			return err
		}
		model := PartModel{MovieCode: code, Title: title, Description: description, MediaRef: mediaRef}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "movie_code"}, {Name: "media_ref"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return fmt.Errorf("insert part: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var existing PartModel
			if err := tx.Where("movie_code = ? AND media_ref = ?", code, mediaRef).First(&existing).Error; err != nil {
				return fmt.Errorf("load duplicate part: %w", err)
			}
			result = UpsertResult{Status: UpsertDuplicate, Part: partFromModel(existing)}
			return nil
		}
		result = UpsertResult{Status: UpsertAdded, Part: partFromModel(model)}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// ensureMovie creates the movie row if absent and fills an empty title.
func ensureMovie(tx *gorm.DB, code, title string, views int64) error {
	movie := MovieModel{Code: code, Title: title, Views: views}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&movie).Error; err != nil {
		return fmt.Errorf("ensure movie: %w", err)
	}
	if strings.TrimSpace(title) == "" {
		return nil
	}
	if err := tx.Model(&MovieModel{}).
		Where("code = ? AND (title IS NULL OR title = '')", code).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("set movie title: %w", err)
	}
	return nil
}

// GetMovie returns the movie with its parts in creation order.
func (s *GormStore) GetMovie(ctx context.Context, code string) (domain.Movie, bool, error) {
	db := s.db.WithContext(ctx)
	var model MovieModel
	if err := db.First(&model, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Movie{}, false, nil
		}
		return domain.Movie{}, false, err
	}
	parts, err := loadParts(db, code)
	if err != nil {
		return domain.Movie{}, false, err
	}
	return movieFromModel(model, parts), true, nil
}

func loadParts(db *gorm.DB, code string) ([]PartModel, error) {
	var parts []PartModel
	if err := db.Where("movie_code = ?", code).Order("id ASC").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("load parts: %w", err)
	}
	return parts, nil
}

type movieSummaryRow struct {
	Code      string
	Title     string
	Views     int64
	PartCount int
}

// ListMovies returns every movie with its part count, oldest first.
func (s *GormStore) ListMovies(ctx context.Context) ([]domain.MovieSummary, error) {
	var rows []movieSummaryRow
	err := s.db.WithContext(ctx).
		Model(&MovieModel{}).
		Select("movie_models.code, movie_models.title, movie_models.views, COUNT(part_models.id) AS part_count").
		Joins("LEFT JOIN part_models ON part_models.movie_code = movie_models.code").
		Group("movie_models.code").
		Order("movie_models.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.MovieSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MovieSummary{Code: r.Code, Title: r.Title, Views: r.Views, PartCount: r.PartCount})
	}
	return out, nil
}

// IncrementViews bumps the counter in place; a missing movie is a no-op.
func (s *GormStore) IncrementViews(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).
		Model(&MovieModel{}).
		Where("code = ?", code).
		UpdateColumn("views", gorm.Expr("views + ?", 1)).Error
}

// DeleteMovie removes the movie and all of its parts.
func (s *GormStore) DeleteMovie(ctx context.Context, code string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("movie_code = ?", code).Delete(&PartModel{}).Error; err != nil {
			return fmt.Errorf("delete parts: %w", err)
		}
		res := tx.Where("code = ?", code).Delete(&MovieModel{})
		if res.Error != nil {
			return fmt.Errorf("delete movie: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// DeletePart removes the part at the 0-based creation-order index. The movie
// is kept even when it ends up without parts.
func (s *GormStore) DeletePart(ctx context.Context, code string, index int) (domain.Part, error) {
	var removed domain.Part
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMovie(tx, code); err != nil {
			return err
		}
		parts, err := loadParts(tx, code)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(parts) {
			return ErrPartOutOfRange
		}
		target := parts[index]
		if err := tx.Delete(&PartModel{}, target.ID).Error; err != nil {
			return fmt.Errorf("delete part: %w", err)
		}
		removed = partFromModel(target)
		return nil
	})
	if err != nil {
		return domain.Part{}, err
	}
	return removed, nil
}

// RebindPartMedia replaces the media of the indexed part. A nil index targets
// the newest part, or appends a part titled with the code when none exist.
func (s *GormStore) RebindPartMedia(ctx context.Context, code string, index *int, mediaRef string) (RebindResult, error) {
	mediaRef = strings.TrimSpace(mediaRef)
	if mediaRef == "" {
		return RebindResult{}, ErrEmptyMedia
	}
	var result RebindResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMovie(tx, code); err != nil {
			return err
		}
		parts, err := loadParts(tx, code)
		if err != nil {
			return err
		}
		target, ok, err := rebindTarget(len(parts), index)
		if err != nil {
			return err
		}
		if !ok {
			model := PartModel{MovieCode: code, Title: code, MediaRef: mediaRef}
			if err := tx.Create(&model).Error; err != nil {
				return mapDuplicate(err)
			}
			result = RebindResult{Part: partFromModel(model), Created: true}
			return nil
		}
		model := parts[target]
		if err := tx.Model(&PartModel{}).Where("id = ?", model.ID).Update("media_ref", mediaRef).Error; err != nil {
			return mapDuplicate(err)
		}
		model.MediaRef = mediaRef
		result = RebindResult{Part: partFromModel(model)}
		return nil
	})
	if err != nil {
		return RebindResult{}, err
	}
	return result, nil
}

// rebindTarget resolves the part index a rebind applies to. ok is false when
// a new part must be appended instead.
func rebindTarget(count int, index *int) (int, bool, error) {
	if index != nil {
		if *index < 0 || *index >= count {
			return 0, false, ErrPartOutOfRange
		}
		return *index, true, nil
	}
	if count == 0 {
		return 0, false, nil
	}
	return count - 1, true, nil
}

func lockMovie(tx *gorm.DB, code string) (MovieModel, error) {
	var movie MovieModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&movie, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MovieModel{}, ErrMovieNotFound
		}
		return MovieModel{}, fmt.Errorf("lock movie: %w", err)
	}
	return movie, nil
}

func mapDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMedia
	}
	return err
}

// RandomPart picks a random movie that has parts, then a random part of it.
func (s *GormStore) RandomPart(ctx context.Context) (domain.Movie, domain.Part, bool, error) {
	var codes []string
	err := s.db.WithContext(ctx).
		Model(&PartModel{}).
		Where("media_ref <> ''").
		Distinct("movie_code").
		Pluck("movie_code", &codes).Error
	if err != nil {
		return domain.Movie{}, domain.Part{}, false, err
	}
	if len(codes) == 0 {
		return domain.Movie{}, domain.Part{}, false, nil
	}
	movie, ok, err := s.GetMovie(ctx, codes[rand.IntN(len(codes))])
	if err != nil || !ok || len(movie.Parts) == 0 {
		return domain.Movie{}, domain.Part{}, false, err
	}
	return movie, movie.Parts[rand.IntN(len(movie.Parts))], true, nil
}

// GetChannels returns the configured requirement list, empty if never set.
func (s *GormStore) GetChannels(ctx context.Context) ([]domain.ChannelRequirement, error) {
	model, ok, err := s.settings(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return model.Channels.Data(), nil
}

// ReplaceChannels overwrites the whole requirement list.
func (s *GormStore) ReplaceChannels(ctx context.Context, channels []domain.ChannelRequirement) error {
	model := BotSettingsModel{ID: settingsRowID, Channels: datatypes.NewJSONType(channels)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channels", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) MigrationDone(ctx context.Context) (bool, error) {
	model, ok, err := s.settings(ctx)
	if err != nil || !ok {
		return false, err
	}
	return model.MigrationDone, nil
}

func (s *GormStore) SetMigrationDone(ctx context.Context) error {
	model := BotSettingsModel{
		ID:            settingsRowID,
		Channels:      datatypes.NewJSONType([]domain.ChannelRequirement{}),
		MigrationDone: true,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"migration_done", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) settings(ctx context.Context) (BotSettingsModel, bool, error) {
	var model BotSettingsModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", settingsRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BotSettingsModel{}, false, nil
		}
		return BotSettingsModel{}, false, err
	}
	return model, true, nil
}

// ListLegacyMovies returns movies that still carry an inline media reference.
func (s *GormStore) ListLegacyMovies(ctx context.Context) ([]domain.LegacyMovie, error) {
	var models []MovieModel
	if err := s.db.WithContext(ctx).
		Where("legacy_media_ref IS NOT NULL").
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LegacyMovie, 0, len(models))
	for _, m := range models {
		legacy := domain.LegacyMovie{Code: m.Code, Title: m.Title, Views: m.Views}
		if m.LegacyMediaRef != nil {
			legacy.MediaRef = *m.LegacyMediaRef
		}
		if m.LegacyDescription != nil {
			legacy.Description = *m.LegacyDescription
		}
		out = append(out, legacy)
	}
	return out, nil
}

// ConvertLegacyMovie writes the record's canonical parts and clears the inline
// legacy columns in one transaction.
func (s *GormStore) ConvertLegacyMovie(ctx context.Context, legacy domain.LegacyMovie) (int, error) {
	code := strings.TrimSpace(legacy.Code)
	if code == "" {
		return 0, ErrEmptyCode
	}
	title := legacy.Title
	if strings.TrimSpace(title) == "" {
		title = code
	}
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureMovie(tx, code, title, legacy.Views); err != nil {
			return err
		}
		for _, p := range legacy.CanonicalParts() {
			model := PartModel{MovieCode: code, Title: p.Title, Description: p.Description, MediaRef: p.MediaRef}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "movie_code"}, {Name: "media_ref"}},
				DoNothing: true,
			}).Create(&model)
			if res.Error != nil {
				return fmt.Errorf("insert legacy part: %w", res.Error)
			}
			created += int(res.RowsAffected)
		}
		if err := tx.Model(&MovieModel{}).Where("code = ?", code).Updates(map[string]any{
			"legacy_media_ref":   nil,
			"legacy_description": nil,
		}).Error; err != nil {
			return fmt.Errorf("clear legacy fields: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func movieFromModel(m MovieModel, parts []PartModel) domain.Movie {
	movie := domain.Movie{
		Code:      m.Code,
		Title:     m.Title,
		Views:     m.Views,
		CreatedAt: m.CreatedAt,
		Parts:     make([]domain.Part, 0, len(parts)),
	}
	for _, p := range parts {
		movie.Parts = append(movie.Parts, partFromModel(p))
	}
	return movie
}

func partFromModel(m PartModel) domain.Part {
	return domain.Part{
		ID:          m.ID,
		MovieCode:   m.MovieCode,
		Title:       m.Title,
		Description: m.Description,
		MediaRef:    m.MediaRef,
		CreatedAt:   m.CreatedAt,
	}
}
