package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kinobot/internal/util"
	"kinobot/pkg/domain"
	"kinobot/pkg/session"
	"kinobot/pkg/store"
)

func (a *App) promptChannels(ctx context.Context, ev TextEvent) error {
	current, err := a.store.GetChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	if _, err := a.sessions.Update(ctx, ev.UserID, func(s *session.Session) error {
		s.AwaitChannelList()
		return nil
	}); err != nil {
		return fmt.Errorf("await channel list: %w", err)
	}
	return a.transport.SendText(ctx, ev.ChatID, channelsPromptText(current))
}

// replaceChannels swaps the whole requirement list and previews the panel
// users will see.
func (a *App) replaceChannels(ctx context.Context, ev TextEvent) error {
	channels := domain.ParseChannelList(ev.Text)
	if err := a.store.ReplaceChannels(ctx, channels); err != nil {
		return fmt.Errorf("replace channels: %w", err)
	}
	if err := a.sessions.Reset(ctx, ev.UserID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	util.LoggerFromContext(ctx).Info("channels_replaced", "count", len(channels))
	if len(channels) == 0 {
		return a.transport.SendMenu(ctx, ev.ChatID, msgChannelsCleared, operatorMenuRows())
	}
	return a.transport.SendOptions(ctx, ev.ChatID, msgChannelsUpdated, subscriptionOptions(channels))
}

func (a *App) handleMedia(ctx context.Context, ev MediaEvent) error {
	if !a.IsOperator(ev.UserID) {
		return a.fallback(ctx, ev.ChatID)
	}
	sess, err := a.sessions.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Mode == session.ModeAwaitingRepairMedia {
		return a.repairMedia(ctx, ev, sess)
	}
	if err := a.staging.Stage(ctx, ev.UserID, ev.MediaRef); err != nil {
		return fmt.Errorf("stage media: %w", err)
	}
	if _, err := a.sessions.Update(ctx, ev.UserID, func(s *session.Session) error {
		s.AwaitMetadata()
		return nil
	}); err != nil {
		return fmt.Errorf("await metadata: %w", err)
	}
	return a.transport.SendText(ctx, ev.ChatID, msgMediaStaged)
}

// addPart attaches the staged media to code as a new part.
func (a *App) addPart(ctx context.Context, ev TextEvent, tok Token) error {
	if !tok.ValidTriple() {
		return a.transport.SendText(ctx, ev.ChatID, msgTripleFormat)
	}
	ref, ok, err := a.staging.Peek(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("peek staging: %w", err)
	}
	if !ok || strings.TrimSpace(ref) == "" {
		return a.transport.SendText(ctx, ev.ChatID, msgNoStagedMedia)
	}
	code, title, description := tok.Fields[0], tok.Fields[1], tok.Fields[2]
	res, err := a.store.UpsertPart(ctx, code, title, description, ref)
	if err != nil {
		return fmt.Errorf("upsert part: %w", err)
	}
	if res.Status == store.UpsertNoMedia {
		return a.transport.SendText(ctx, ev.ChatID, msgNoStagedMedia)
	}
	// A newer media staged meanwhile stays in the slot.
	if _, err := a.staging.Consume(ctx, ev.UserID, ref); err != nil {
		return fmt.Errorf("consume staging: %w", err)
	}
	if err := a.sessions.Reset(ctx, ev.UserID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	if res.Status == store.UpsertDuplicate {
		logger.Info("part_duplicate", "code", code, "part_id", res.Part.ID)
		return a.transport.SendText(ctx, ev.ChatID, duplicateText(code))
	}
	logger.Info("part_added", "code", code, "part_id", res.Part.ID)
	if err := a.transport.SendMedia(ctx, ev.ChatID, ref, partCaption(res.Part)); err != nil {
		logger.Warn("preview_failed", "code", code, "err", err)
		return a.transport.SendText(ctx, ev.ChatID, msgPreviewFailed)
	}
	return a.transport.SendText(ctx, ev.ChatID, msgPartAdded)
}

func (a *App) armRepair(ctx context.Context, ev TextEvent, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return a.transport.SendText(ctx, ev.ChatID, msgRepairUsage)
	}
	code := args[0]
	var index *int
	if len(args) == 2 {
		n, ok := positiveInt(args[1])
		if !ok {
			return a.transport.SendText(ctx, ev.ChatID, msgRepairUsage)
		}
		idx := n - 1
		index = &idx
	}
	movie, ok, err := a.store.GetMovie(ctx, code)
	if err != nil {
		return fmt.Errorf("get movie: %w", err)
	}
	if !ok {
		return a.transport.SendText(ctx, ev.ChatID, msgRepairNoCode)
	}
	if index != nil && *index >= len(movie.Parts) {
		return a.transport.SendText(ctx, ev.ChatID, msgRepairNoPart)
	}
	if _, err := a.sessions.Update(ctx, ev.UserID, func(s *session.Session) error {
		s.AwaitRepairMedia(code, index)
		return nil
	}); err != nil {
		return fmt.Errorf("await repair media: %w", err)
	}
	return a.transport.SendText(ctx, ev.ChatID, repairArmedText(code))
}

// repairMedia rebinds the targeted part. The session returns to Idle on every
// handled outcome; storage failures keep it armed for a retry.
func (a *App) repairMedia(ctx context.Context, ev MediaEvent, sess session.Session) error {
	res, err := a.store.RebindPartMedia(ctx, sess.PendingCode, sess.PendingPart, ev.MediaRef)
	var reply string
	switch {
	case errors.Is(err, store.ErrMovieNotFound):
		reply = msgRepairLost
	case errors.Is(err, store.ErrPartOutOfRange):
		reply = msgRepairNoPart
	case errors.Is(err, store.ErrDuplicateMedia):
		reply = msgRepairDuplicate
	case err != nil:
		return fmt.Errorf("rebind media: %w", err)
	default:
		reply = msgRepairDone
		util.LoggerFromContext(ctx).Info("part_media_rebound",
			"code", sess.PendingCode, "part_id", res.Part.ID, "created", res.Created)
	}
	if err := a.sessions.Reset(ctx, ev.UserID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return a.transport.SendMenu(ctx, ev.ChatID, reply, operatorMenuRows())
}

func (a *App) deleteContent(ctx context.Context, ev TextEvent, args []string) error {
	switch len(args) {
	case 0:
		return a.transport.SendText(ctx, ev.ChatID, msgDeleteUsage)
	case 1:
		deleted, err := a.store.DeleteMovie(ctx, args[0])
		if err != nil {
			return fmt.Errorf("delete movie: %w", err)
		}
		if !deleted {
			return a.transport.SendText(ctx, ev.ChatID, msgDeleteNoCode)
		}
		util.LoggerFromContext(ctx).Info("movie_deleted", "code", args[0])
		return a.transport.SendText(ctx, ev.ChatID, movieDeletedText(args[0]))
	case 2:
		n, ok := positiveInt(args[1])
		if !ok {
			return a.transport.SendText(ctx, ev.ChatID, msgDeleteFormat)
		}
		part, err := a.store.DeletePart(ctx, args[0], n-1)
		switch {
		case errors.Is(err, store.ErrMovieNotFound):
			return a.transport.SendText(ctx, ev.ChatID, msgDeleteNoCode)
		case errors.Is(err, store.ErrPartOutOfRange):
			return a.transport.SendText(ctx, ev.ChatID, msgDeleteNoPart)
		case err != nil:
			return fmt.Errorf("delete part: %w", err)
		}
		util.LoggerFromContext(ctx).Info("part_deleted", "code", args[0], "part_id", part.ID)
		return a.transport.SendText(ctx, ev.ChatID, partDeletedText(args[0], n-1, part))
	default:
		return a.transport.SendText(ctx, ev.ChatID, msgDeleteFormat)
	}
}

// Bootstrap runs the legacy migration before the bot serves traffic. Later
// calls, and /migrate after it, report AlreadyDone.
func (a *App) Bootstrap(ctx context.Context) (MigrationReport, error) {
	report, err := a.migrator.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("startup migration: %w", err)
	}
	return report, nil
}

func (a *App) runMigration(ctx context.Context, chatID int64) error {
	report, err := a.migrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	return a.transport.SendText(ctx, chatID, migrationText(report))
}

// backup uploads a catalog snapshot in the legacy catalog format, so it can be
// fed back through an ObjectSource, and replies with a temporary link.
func (a *App) backup(ctx context.Context, chatID int64) error {
	if a.objects == nil {
		return a.transport.SendText(ctx, chatID, msgBackupDisabled)
	}
	summaries, err := a.store.ListMovies(ctx)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}
	snapshot := make([]domain.LegacyMovie, 0, len(summaries))
	for _, sm := range summaries {
		movie, ok, err := a.store.GetMovie(ctx, sm.Code)
		if err != nil {
			return fmt.Errorf("get movie %s: %w", sm.Code, err)
		}
		if !ok {
			continue
		}
		snapshot = append(snapshot, legacyFromMovie(movie))
	}
	var buf bytes.Buffer
	if err := EncodeLegacyCatalog(&buf, snapshot); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	key := fmt.Sprintf("backups/movies-%s-%s.json", time.Now().UTC().Format("20060102T150405Z"), util.NewID())
	if err := a.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/json"); err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.backupExpiry)
	if err != nil {
		return fmt.Errorf("presign backup: %w", err)
	}
	util.LoggerFromContext(ctx).Info("backup_uploaded", "key", key, "movies", len(snapshot))
	return a.transport.SendText(ctx, chatID, backupText(url))
}

func legacyFromMovie(m domain.Movie) domain.LegacyMovie {
	out := domain.LegacyMovie{Code: m.Code, Title: m.Title, Views: m.Views}
	for _, p := range m.Parts {
		out.Parts = append(out.Parts, domain.LegacyPart{
			Title:       p.Title,
			Description: p.Description,
			MediaRef:    p.MediaRef,
		})
	}
	return out
}
