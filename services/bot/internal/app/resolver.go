package app

import (
	"context"
	"fmt"
	"strings"

	"kinobot/internal/util"
	"kinobot/pkg/domain"
	"kinobot/pkg/store"
)

// OutcomeKind classifies what a resolution produced.
type OutcomeKind int

const (
	OutcomeDelivered OutcomeKind = iota
	// OutcomeNoContent is a known code without any parts.
	OutcomeNoContent
	OutcomeNotFound
	// OutcomeMultiPart means the caller must offer a part selection.
	OutcomeMultiPart
	OutcomeOutOfRange
	OutcomeStaleContext
	OutcomeDeliveryFailed
	// OutcomeMissingMedia is a resolved part without a media reference.
	OutcomeMissingMedia
)

// Outcome is the result of resolving a code or a part selection.
type Outcome struct {
	Kind  OutcomeKind
	Movie domain.Movie
	Part  domain.Part
	// Index is the 0-based position of Part within Movie.Parts.
	Index int
}

// Err maps the outcome onto the error taxonomy; delivered and multi-part
// outcomes map to nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeNotFound, OutcomeNoContent:
		return ErrNotFound
	case OutcomeOutOfRange:
		return ErrOutOfRange
	case OutcomeStaleContext:
		return ErrStaleContext
	case OutcomeDeliveryFailed, OutcomeMissingMedia:
		return ErrDeliveryFailed
	default:
		return nil
	}
}

// Resolver turns codes and part selections into delivered media. Views are
// counted once per successful delivery and never on failure.
type Resolver struct {
	store     store.ContentStore
	transport Transport
}

func NewResolver(st store.ContentStore, transport Transport) *Resolver {
	return &Resolver{store: st, transport: transport}
}

// ResolveByCode delivers a single-part movie directly and reports multi-part
// movies so the caller can offer a selection.
func (r *Resolver) ResolveByCode(ctx context.Context, chatID int64, code string) (Outcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Outcome{Kind: OutcomeNotFound}, nil
	}
	movie, ok, err := r.store.GetMovie(ctx, code)
	if err != nil {
		return Outcome{}, fmt.Errorf("get movie: %w", err)
	}
	if !ok {
		return Outcome{Kind: OutcomeNotFound}, nil
	}
	switch len(movie.Parts) {
	case 0:
		return Outcome{Kind: OutcomeNoContent, Movie: movie}, nil
	case 1:
		return r.deliver(ctx, chatID, movie, 0, "")
	default:
		return Outcome{Kind: OutcomeMultiPart, Movie: movie}, nil
	}
}

// ResolveByPart delivers the part at the 0-based index of the selection that
// was offered. offered holds the part ids shown to the user; when it is
// non-empty the selection is bound to those exact parts, so a part deleted in
// the meantime yields a stale context rather than its successor.
func (r *Resolver) ResolveByPart(ctx context.Context, chatID int64, code string, offered []int64, index int) (Outcome, error) {
	movie, ok, err := r.store.GetMovie(ctx, code)
	if err != nil {
		return Outcome{}, fmt.Errorf("get movie: %w", err)
	}
	if !ok {
		return Outcome{Kind: OutcomeStaleContext}, nil
	}
	if len(offered) == 0 {
		if index < 0 || index >= len(movie.Parts) {
			return Outcome{Kind: OutcomeOutOfRange, Movie: movie}, nil
		}
		return r.deliver(ctx, chatID, movie, index, "")
	}
	if index < 0 || index >= len(offered) {
		return Outcome{Kind: OutcomeOutOfRange, Movie: movie}, nil
	}
	want := offered[index]
	for i, p := range movie.Parts {
		if p.ID == want {
			return r.deliver(ctx, chatID, movie, i, "")
		}
	}
	return Outcome{Kind: OutcomeStaleContext, Movie: movie}, nil
}

// Recommend delivers a random part of a random movie with media.
func (r *Resolver) Recommend(ctx context.Context, chatID int64) (Outcome, error) {
	movie, part, ok, err := r.store.RandomPart(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("random part: %w", err)
	}
	if !ok {
		return Outcome{Kind: OutcomeNoContent}, nil
	}
	index := 0
	for i, p := range movie.Parts {
		if p.ID == part.ID {
			index = i
			break
		}
	}
	if len(movie.Parts) == 0 {
		movie.Parts = []domain.Part{part}
	}
	return r.deliver(ctx, chatID, movie, index, "\n\n💡 Tavsiya qilindi")
}

func (r *Resolver) deliver(ctx context.Context, chatID int64, movie domain.Movie, index int, suffix string) (Outcome, error) {
	part := movie.Parts[index]
	out := Outcome{Movie: movie, Part: part, Index: index}
	if strings.TrimSpace(part.MediaRef) == "" {
		out.Kind = OutcomeMissingMedia
		return out, nil
	}
	logger := util.LoggerFromContext(ctx)
	if err := r.transport.SendMedia(ctx, chatID, part.MediaRef, partCaption(part)+suffix); err != nil {
		logger.Warn("media_delivery_failed", "code", movie.Code, "part_id", part.ID, "err", err)
		out.Kind = OutcomeDeliveryFailed
		return out, nil
	}
	out.Kind = OutcomeDelivered
	if err := r.store.IncrementViews(ctx, movie.Code); err != nil {
		// Media already reached the user; a lost count must not turn into an error reply.
		logger.Error("increment_views_failed", "code", movie.Code, "err", err)
	}
	return out, nil
}
