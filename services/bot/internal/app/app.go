package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kinobot/internal/util"
	"kinobot/pkg/session"
	"kinobot/pkg/storage"
	"kinobot/pkg/store"
)

// Config holds the collaborators of the bot core.
type Config struct {
	Store     store.Store
	Sessions  session.Store
	Staging   session.Staging
	Gate      Gatekeeper
	Transport Transport
	// Limiter throttles non-operators; nil disables limiting.
	Limiter RateLimiter
	// Objects receives catalog backups; nil disables /backup.
	Objects  storage.ObjectStore
	Migrator *Migrator

	OperatorIDs  []int64
	ContactURL   string
	BackupExpiry time.Duration
}

// App is the conversational core: it interprets inbound events against the
// sender's session and drives the resolver and operator workflows.
type App struct {
	store     store.Store
	sessions  session.Store
	staging   session.Staging
	gate      Gatekeeper
	transport Transport
	limiter   RateLimiter
	objects   storage.ObjectStore
	migrator  *Migrator
	resolver  *Resolver
	locks     *session.KeyedMutex

	operators    map[int64]struct{}
	contactURL   string
	backupExpiry time.Duration
}

// New validates cfg and constructs the core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore()
	}
	if cfg.Staging == nil {
		cfg.Staging = session.NewMemoryStaging()
	}
	if cfg.Migrator == nil {
		cfg.Migrator = NewMigrator(cfg.Store)
	}
	if cfg.BackupExpiry <= 0 {
		cfg.BackupExpiry = 24 * time.Hour
	}
	operators := make(map[int64]struct{}, len(cfg.OperatorIDs))
	for _, id := range cfg.OperatorIDs {
		operators[id] = struct{}{}
	}
	return &App{
		store:        cfg.Store,
		sessions:     cfg.Sessions,
		staging:      cfg.Staging,
		gate:         cfg.Gate,
		transport:    cfg.Transport,
		limiter:      cfg.Limiter,
		objects:      cfg.Objects,
		migrator:     cfg.Migrator,
		resolver:     NewResolver(cfg.Store, cfg.Transport),
		locks:        session.NewKeyedMutex(),
		operators:    operators,
		contactURL:   cfg.ContactURL,
		backupExpiry: cfg.BackupExpiry,
	}, nil
}

// IsOperator reports whether userID holds operator privileges.
func (a *App) IsOperator(userID int64) bool {
	_, ok := a.operators[userID]
	return ok
}

// Handle runs one inbound event to completion. Events of the same user are
// serialized; different users never wait on each other. A returned error has
// already been answered with a generic reply and only needs logging.
func (a *App) Handle(ctx context.Context, ev Event) error {
	unlock := a.locks.Lock(ev.Sender())
	defer unlock()

	if !a.IsOperator(ev.Sender()) && a.limiter != nil && !a.limiter.Allow(ctx, ev.Sender()) {
		if cb, ok := ev.(CallbackEvent); ok {
			return a.transport.AnswerCallback(ctx, cb.CallbackID, msgRateLimited)
		}
		return a.transport.SendText(ctx, ev.Chat(), msgRateLimited)
	}

	var err error
	switch e := ev.(type) {
	case TextEvent:
		err = a.handleText(ctx, e)
	case MediaEvent:
		err = a.handleMedia(ctx, e)
	case CallbackEvent:
		err = a.handleCallback(ctx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	if err != nil {
		if sendErr := a.transport.SendText(ctx, ev.Chat(), msgInternalError); sendErr != nil {
			util.LoggerFromContext(ctx).Warn("error_reply_failed", "err", sendErr)
		}
		return err
	}
	return nil
}

func (a *App) handleText(ctx context.Context, ev TextEvent) error {
	tok := ParseInput(ev.Text)
	operator := a.IsOperator(ev.UserID)

	switch tok.Kind {
	case TokenCommand:
		return a.handleCommand(ctx, ev, tok, operator)
	case TokenMenu:
		if !tok.Menu.operatorOnly() || operator {
			return a.handleMenu(ctx, ev, tok.Menu, operator)
		}
		return a.fallback(ctx, ev.ChatID)
	}

	sess, err := a.sessions.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if operator {
		if sess.Mode == session.ModeAwaitingChannelList {
			return a.replaceChannels(ctx, ev)
		}
		if tok.Kind == TokenTriple || sess.Mode == session.ModeAwaitingMovieMetadata {
			return a.addPart(ctx, ev, tok)
		}
	}

	switch sess.Mode {
	case session.ModeAwaitingPart:
		return a.selectPart(ctx, ev, sess, tok)
	case session.ModeAwaitingCode:
		return a.enterCode(ctx, ev, tok.Text)
	default:
		return a.fallback(ctx, ev.ChatID)
	}
}

func (a *App) handleCommand(ctx context.Context, ev TextEvent, tok Token, operator bool) error {
	switch tok.Command {
	case "start":
		return a.start(ctx, ev, operator)
	case "cancel":
		return a.backToMain(ctx, ev.UserID, ev.ChatID, operator)
	}
	if !operator {
		return a.fallback(ctx, ev.ChatID)
	}
	switch tok.Command {
	case "repair":
		return a.armRepair(ctx, ev, tok.Args)
	case "delete":
		return a.deleteContent(ctx, ev, tok.Args)
	case "migrate":
		return a.runMigration(ctx, ev.ChatID)
	case "backup":
		return a.backup(ctx, ev.ChatID)
	default:
		return a.fallback(ctx, ev.ChatID)
	}
}

func (a *App) handleMenu(ctx context.Context, ev TextEvent, action MenuAction, operator bool) error {
	switch action {
	case MenuMain:
		return a.backToMain(ctx, ev.UserID, ev.ChatID, operator)
	case MenuContact:
		return a.transport.SendText(ctx, ev.ChatID, contactText(a.contactURL))
	case MenuSearch:
		return a.beginSearch(ctx, ev)
	case MenuStats:
		return a.stats(ctx, ev)
	case MenuRecommend:
		return a.recommend(ctx, ev)
	case MenuAdd:
		if err := a.sessions.Reset(ctx, ev.UserID); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		return a.transport.SendText(ctx, ev.ChatID, msgAddHelp)
	case MenuListAll:
		return a.listAll(ctx, ev.ChatID)
	case MenuChannels:
		return a.promptChannels(ctx, ev)
	case MenuRepair:
		return a.transport.SendText(ctx, ev.ChatID, msgRepairUsage)
	case MenuMigrate:
		return a.runMigration(ctx, ev.ChatID)
	case MenuDelete:
		return a.transport.SendText(ctx, ev.ChatID, msgDeleteUsage)
	default:
		return a.fallback(ctx, ev.ChatID)
	}
}

func (a *App) menuRows(operator bool) [][]string {
	if operator {
		return operatorMenuRows()
	}
	return userMenuRows()
}

func (a *App) fallback(ctx context.Context, chatID int64) error {
	return a.transport.SendText(ctx, chatID, msgFallback)
}

func (a *App) backToMain(ctx context.Context, userID, chatID int64, operator bool) error {
	if err := a.sessions.Reset(ctx, userID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return a.transport.SendMenu(ctx, chatID, msgMainMenu, a.menuRows(operator))
}

func (a *App) start(ctx context.Context, ev TextEvent, operator bool) error {
	if err := a.sessions.Reset(ctx, ev.UserID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil {
		return err
	}
	if !allowed && !operator {
		return nil
	}
	return a.transport.SendMenu(ctx, ev.ChatID, msgWelcome, a.menuRows(operator))
}

// checkGate evaluates the subscription gate and, on denial, shows the
// diagnostics together with the subscription panel.
func (a *App) checkGate(ctx context.Context, userID, chatID int64, header string) (bool, error) {
	if a.gate == nil {
		return true, nil
	}
	res, err := a.gate.Evaluate(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("evaluate gate: %w", err)
	}
	if res.Allowed {
		return true, nil
	}
	util.LoggerFromContext(ctx).Info("gate_denied",
		"not_subscribed", len(res.NotSubscribed), "inaccessible", len(res.Inaccessible))
	channels, err := a.store.GetChannels(ctx)
	if err != nil {
		return false, fmt.Errorf("load channels: %w", err)
	}
	text := gateDiagnostics(header, res) + "\n" + msgSubscribePanel
	return false, a.transport.SendOptions(ctx, chatID, text, subscriptionOptions(channels))
}

func (a *App) beginSearch(ctx context.Context, ev TextEvent) error {
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil || !allowed {
		return err
	}
	if _, err := a.sessions.Update(ctx, ev.UserID, func(s *session.Session) error {
		s.BeginSearch()
		return nil
	}); err != nil {
		return fmt.Errorf("begin search: %w", err)
	}
	return a.transport.SendMenu(ctx, ev.ChatID, msgEnterCode, [][]string{{labelMain}})
}

func (a *App) enterCode(ctx context.Context, ev TextEvent, code string) error {
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil || !allowed {
		return err
	}
	out, err := a.resolver.ResolveByCode(ctx, ev.ChatID, code)
	if err != nil {
		return err
	}
	switch out.Kind {
	case OutcomeNotFound:
		return a.transport.SendText(ctx, ev.ChatID, msgCodeNotFound)
	case OutcomeNoContent:
		return a.transport.SendText(ctx, ev.ChatID, msgNoContent)
	case OutcomeMultiPart:
		ids := make([]int64, len(out.Movie.Parts))
		for i, p := range out.Movie.Parts {
			ids[i] = p.ID
		}
		if _, err := a.sessions.Update(ctx, ev.UserID, func(s *session.Session) error {
			s.AwaitPart(out.Movie.Code, ids)
			return nil
		}); err != nil {
			return fmt.Errorf("await part: %w", err)
		}
		return a.transport.SendMenu(ctx, ev.ChatID, choosePartText(out.Movie), partsMenuRows(len(ids)))
	default:
		return a.finishDelivery(ctx, ev.UserID, ev.ChatID, out)
	}
}

func (a *App) selectPart(ctx context.Context, ev TextEvent, sess session.Session, tok Token) error {
	if tok.Kind != TokenPartOrdinal && tok.Kind != TokenNumber {
		return a.transport.SendText(ctx, ev.ChatID, msgChoosePartHint)
	}
	if sess.ActiveCode == "" {
		return a.finishDelivery(ctx, ev.UserID, ev.ChatID, Outcome{Kind: OutcomeStaleContext})
	}
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeFailed)
	if err != nil || !allowed {
		return err
	}
	out, err := a.resolver.ResolveByPart(ctx, ev.ChatID, sess.ActiveCode, sess.ActiveParts, tok.Number-1)
	if err != nil {
		return err
	}
	if out.Kind == OutcomeOutOfRange {
		return a.transport.SendText(ctx, ev.ChatID, msgPartOutOfRange)
	}
	return a.finishDelivery(ctx, ev.UserID, ev.ChatID, out)
}

// finishDelivery ends a content-producing transition: the session always
// returns to Idle and the user gets the outcome message with the main menu.
func (a *App) finishDelivery(ctx context.Context, userID, chatID int64, out Outcome) error {
	if err := a.sessions.Reset(ctx, userID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	operator := a.IsOperator(userID)
	logger := util.LoggerFromContext(ctx)
	if err := out.Err(); err != nil {
		logger.Info("content_not_delivered", "code", out.Movie.Code, "part_id", out.Part.ID, "err", err)
	}
	text := msgWhatNext
	switch out.Kind {
	case OutcomeDelivered:
		logger.Info("content_delivered", "code", out.Movie.Code, "part_id", out.Part.ID)
	case OutcomeStaleContext:
		text = msgStaleContext
	case OutcomeMissingMedia:
		text = msgMissingMedia
	case OutcomeDeliveryFailed:
		text = msgDeliveryFailed
		if operator {
			text += "\n" + repairHintText(out.Movie.Code, out.Index)
		}
	case OutcomeNoContent:
		text = msgNoContent
	case OutcomeNotFound:
		text = msgCodeNotFound
	}
	return a.transport.SendMenu(ctx, chatID, text, a.menuRows(operator))
}

func (a *App) handleCallback(ctx context.Context, ev CallbackEvent) error {
	if ev.Data != ActionCheckSubscription {
		return a.transport.AnswerCallback(ctx, ev.CallbackID, "")
	}
	if err := a.transport.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
		util.LoggerFromContext(ctx).Warn("answer_callback_failed", "err", err)
	}
	allowed, err := a.checkGate(ctx, ev.UserID, ev.ChatID, msgSubscribeRetry)
	if err != nil || !allowed {
		return err
	}
	return a.transport.SendMenu(ctx, ev.ChatID, msgSubscribeOK, a.menuRows(a.IsOperator(ev.UserID)))
}
