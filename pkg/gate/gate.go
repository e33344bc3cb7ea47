package gate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"kinobot/internal/util"
	"kinobot/pkg/domain"
)

const (
	defaultTimeout     = 3 * time.Second
	defaultConcurrency = 4
)

// MembershipQuerier looks up a user's status in a handle-addressed channel.
type MembershipQuerier interface {
	QueryMembership(ctx context.Context, handle string, userID int64) (string, error)
}

// ChannelSource supplies the current requirement list.
type ChannelSource interface {
	GetChannels(ctx context.Context) ([]domain.ChannelRequirement, error)
}

// Cache remembers satisfied lookups. Only positive results are cached so a
// user who just joined is never denied from a stale entry.
type Cache interface {
	Satisfied(ctx context.Context, handle string, userID int64) bool
	MarkSatisfied(ctx context.Context, handle string, userID int64)
}

// Queriers wrap these so the evaluator can tell lookup failures apart.
var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrChannelForbidden = errors.New("channel members not readable by bot")
	errEmptyHandle      = errors.New("empty channel handle")
)

// Reason codes of an inaccessible channel. They never carry raw error text.
const (
	ReasonNotFound    = "not_found"
	ReasonForbidden   = "forbidden"
	ReasonTimeout     = "timeout"
	ReasonInvalid     = "invalid"
	ReasonUnavailable = "unavailable"
)

// Failure describes a channel that blocked access. Reason is one of the
// Reason codes and is set only for inaccessible channels.
type Failure struct {
	Channel domain.ChannelRequirement
	Status  string
	Reason  string
}

func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrChannelNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrChannelForbidden):
		return ReasonForbidden
	case errors.Is(err, errEmptyHandle):
		return ReasonInvalid
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	default:
		return ReasonUnavailable
	}
}

// Result is the outcome of one evaluation. Allowed is true iff both failure
// lists are empty.
type Result struct {
	Allowed       bool
	NotSubscribed []Failure
	Inaccessible  []Failure
	InviteOnly    []domain.ChannelRequirement
}

// Blocking returns every channel the user still has to deal with, in list order.
func (r Result) Blocking() []domain.ChannelRequirement {
	out := make([]domain.ChannelRequirement, 0, len(r.NotSubscribed)+len(r.Inaccessible))
	for _, f := range r.NotSubscribed {
		out = append(out, f.Channel)
	}
	for _, f := range r.Inaccessible {
		out = append(out, f.Channel)
	}
	return out
}

type Config struct {
	Source      ChannelSource
	Querier     MembershipQuerier
	Cache       Cache
	Timeout     time.Duration
	Concurrency int
}

// Evaluator checks mandatory channel subscriptions.
type Evaluator struct {
	source      ChannelSource
	querier     MembershipQuerier
	cache       Cache
	timeout     time.Duration
	concurrency int
}

func NewEvaluator(cfg Config) *Evaluator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Evaluator{
		source:      cfg.Source,
		querier:     cfg.Querier,
		cache:       cfg.Cache,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// IsSatisfied reports whether a membership status counts as subscribed.
func IsSatisfied(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "member", "administrator", "creator", "owner":
		return true
	default:
		return false
	}
}

type lookup struct {
	status string
	err    error
}

// Evaluate checks every configured channel for the user. Only a failure to
// read the requirement list is returned as an error; lookup failures deny.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) (Result, error) {
	channels, err := e.source.GetChannels(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load channels: %w", err)
	}
	result := Result{}
	lookups := make([]lookup, len(channels))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, ch := range channels {
		if ch.IsInvite() {
			continue
		}
		i, handle := i, strings.TrimSpace(ch.Target)
		g.Go(func() error {
			lookups[i] = e.check(ctx, handle, userID)
			return nil
		})
	}
	_ = g.Wait()

	logger := util.LoggerFromContext(ctx)
	for i, ch := range channels {
		if ch.IsInvite() {
			result.InviteOnly = append(result.InviteOnly, ch)
			continue
		}
		l := lookups[i]
		switch {
		case l.err != nil:
			logger.Warn("membership_lookup_failed", "channel", ch.Target, "user_id", userID, "err", l.err)
			result.Inaccessible = append(result.Inaccessible, Failure{Channel: ch, Reason: classify(l.err)})
		case !IsSatisfied(l.status):
			result.NotSubscribed = append(result.NotSubscribed, Failure{Channel: ch, Status: l.status})
		}
	}
	result.Allowed = len(result.NotSubscribed) == 0 && len(result.Inaccessible) == 0
	return result, nil
}

func (e *Evaluator) check(ctx context.Context, handle string, userID int64) lookup {
	if handle == "" || handle == "@" {
		return lookup{err: errEmptyHandle}
	}
	if e.cache != nil && e.cache.Satisfied(ctx, handle, userID) {
		return lookup{status: "member"}
	}
	status, err := e.query(ctx, handle, userID)
	if err != nil {
		return lookup{err: err}
	}
	if e.cache != nil && IsSatisfied(status) {
		e.cache.MarkSatisfied(ctx, handle, userID)
	}
	return lookup{status: status}
}

// query bounds the lookup even when the querier ignores its context.
func (e *Evaluator) query(ctx context.Context, handle string, userID int64) (string, error) {
	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	replies := make(chan lookup, 1)
	go func() {
		status, err := e.querier.QueryMembership(qctx, handle, userID)
		replies <- lookup{status: status, err: err}
	}()
	select {
	case r := <-replies:
		if r.err != nil {
			return "", fmt.Errorf("membership lookup %s: %w", handle, r.err)
		}
		return r.status, nil
	case <-qctx.Done():
		return "", fmt.Errorf("membership lookup %s: %w", handle, qctx.Err())
	}
}
