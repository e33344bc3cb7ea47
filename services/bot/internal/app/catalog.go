package app

import (
	"context"
	"fmt"
	"sort"

	"kinobot/pkg/domain"
)

const statsLimit = 10

func (a *App) stats(ctx context.Context, ev TextEvent) error {
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil || !allowed {
		return err
	}
	movies, err := a.store.ListMovies(ctx)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}
	if len(movies) == 0 {
		return a.transport.SendText(ctx, ev.ChatID, msgStatsEmpty)
	}
	return a.sendChunks(ctx, ev.ChatID, statsText(topByViews(movies, statsLimit)))
}

// topByViews orders by views descending, keeping catalog order among ties.
func topByViews(movies []domain.MovieSummary, limit int) []domain.MovieSummary {
	out := append([]domain.MovieSummary(nil), movies...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *App) recommend(ctx context.Context, ev TextEvent) error {
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil || !allowed {
		return err
	}
	out, err := a.resolver.Recommend(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if out.Kind == OutcomeNoContent {
		return a.transport.SendText(ctx, ev.ChatID, msgRecommendEmpty)
	}
	return a.finishDelivery(ctx, ev.UserID, ev.ChatID, out)
}

func (a *App) listAll(ctx context.Context, chatID int64) error {
	movies, err := a.store.ListMovies(ctx)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}
	if len(movies) == 0 {
		return a.transport.SendText(ctx, chatID, msgListEmpty)
	}
	return a.sendChunks(ctx, chatID, catalogText(movies))
}

func (a *App) sendChunks(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkText(text, maxMessageLen) {
		if err := a.transport.SendText(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}
