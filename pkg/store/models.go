package store

import (
	"time"

	"gorm.io/datatypes"
	"kinobot/pkg/domain"
)

// GORM models used for persistence.
type MovieModel struct {
	Code  string `gorm:"primaryKey"`
	Title string
	Views int64 `gorm:"not null;default:0"`
	// Inline single-media fields of pre-migration records; nil once converted.
	LegacyMediaRef    *string
	LegacyDescription *string
	CreatedAt         time.Time `gorm:"not null;index"`
}

type PartModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	MovieCode   string `gorm:"not null;index;uniqueIndex:idx_part_movie_media,priority:1"`
	Title       string
	Description string
	MediaRef    string    `gorm:"not null;uniqueIndex:idx_part_movie_media,priority:2"`
	CreatedAt   time.Time `gorm:"not null"`
}

// BotSettingsModel is a single-row table; settingsRowID addresses it.
type BotSettingsModel struct {
	ID            int                                             `gorm:"primaryKey"`
	Channels      datatypes.JSONType[[]domain.ChannelRequirement] `gorm:"type:jsonb"`
	MigrationDone bool                                            `gorm:"not null;default:false"`
	UpdatedAt     time.Time
}

const settingsRowID = 1
