package session

import (
	"context"
	"errors"
	"time"
)

// Mode is the conversation state of a single user.
type Mode string

const (
	ModeIdle Mode = "idle"
	// ModeAwaitingCode waits for the user to type a movie code.
	ModeAwaitingCode Mode = "awaiting_code"
	// ModeAwaitingPart waits for a part selection of ActiveCode.
	ModeAwaitingPart Mode = "awaiting_part"
	// ModeAwaitingRepairMedia waits for the operator's replacement media for PendingCode/PendingPart.
	ModeAwaitingRepairMedia Mode = "awaiting_repair_media"
	// ModeAwaitingChannelList waits for the operator's newline-delimited channel list.
	ModeAwaitingChannelList Mode = "awaiting_channel_list"
	// ModeAwaitingMovieMetadata waits for "code | title | description" for the staged media.
	ModeAwaitingMovieMetadata Mode = "awaiting_movie_metadata"
)

// ErrConflict is returned when an optimistic update kept losing to concurrent writers.
var ErrConflict = errors.New("session update conflict")

// Session is the per-user transient state. Fields other than Mode are only
// meaningful in the mode that sets them; transition methods clear the rest.
type Session struct {
	UserID      int64     `json:"userId"`
	Mode        Mode      `json:"mode"`
	ActiveCode  string    `json:"activeCode,omitempty"`
	ActiveParts []int64   `json:"activeParts,omitempty"`
	PendingCode string    `json:"pendingCode,omitempty"`
	PendingPart *int      `json:"pendingPart,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New returns the initial session of a user.
func New(userID int64) Session {
	return Session{UserID: userID, Mode: ModeIdle}
}

func (s *Session) set(mode Mode) {
	s.Mode = mode
	s.ActiveCode = ""
	s.ActiveParts = nil
	s.PendingCode = ""
	s.PendingPart = nil
}

// Reset returns to Idle and clears every transient field.
func (s *Session) Reset() { s.set(ModeIdle) }

func (s *Session) BeginSearch() { s.set(ModeAwaitingCode) }

// AwaitPart remembers the movie whose parts were just offered, along with the
// ids of those parts in menu order.
func (s *Session) AwaitPart(code string, partIDs []int64) {
	s.set(ModeAwaitingPart)
	s.ActiveCode = code
	s.ActiveParts = append([]int64(nil), partIDs...)
}

// AwaitRepairMedia targets the part that the next media event rebinds. A nil
// part targets the newest part.
func (s *Session) AwaitRepairMedia(code string, part *int) {
	s.set(ModeAwaitingRepairMedia)
	s.PendingCode = code
	if part != nil {
		idx := *part
		s.PendingPart = &idx
	}
}

func (s *Session) AwaitChannelList() { s.set(ModeAwaitingChannelList) }

func (s *Session) AwaitMetadata() { s.set(ModeAwaitingMovieMetadata) }

// Store holds sessions keyed by user. Update runs fn atomically with respect
// to other updates of the same user; a non-nil error from fn discards the change.
type Store interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Update(ctx context.Context, userID int64, fn func(*Session) error) (Session, error)
	Reset(ctx context.Context, userID int64) error
}

// Staging holds the single most recent unconsumed media reference per operator.
type Staging interface {
	Stage(ctx context.Context, operatorID int64, mediaRef string) error
	Peek(ctx context.Context, operatorID int64) (string, bool, error)
	// Consume clears the slot only if it still holds expectedRef, so media
	// staged while a part was being saved survives.
	Consume(ctx context.Context, operatorID int64, expectedRef string) (bool, error)
}
