package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"kinobot/pkg/domain"
)

type staticSource []domain.ChannelRequirement

func (s staticSource) GetChannels(context.Context) ([]domain.ChannelRequirement, error) {
	return s, nil
}

type failingSource struct{}

func (failingSource) GetChannels(context.Context) ([]domain.ChannelRequirement, error) {
	return nil, errors.New("db down")
}

type fakeQuerier struct {
	mu       sync.Mutex
	statuses map[string]string
	errs     map[string]error
	block    map[string]bool
	calls    atomic.Int32
}

func (f *fakeQuerier) QueryMembership(ctx context.Context, handle string, _ int64) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	status, err, block := f.statuses[handle], f.errs[handle], f.block[handle]
	f.mu.Unlock()
	if block {
		// Ignores ctx on purpose: the evaluator must still return.
		time.Sleep(time.Second)
	}
	return status, err
}

func handle(name string) domain.ChannelRequirement {
	return domain.ChannelRequirement{Kind: domain.ChannelHandle, Target: name}
}

func invite(url string) domain.ChannelRequirement {
	return domain.ChannelRequirement{Kind: domain.ChannelInvite, Target: url}
}

func TestEvaluateEmptyListAllows(t *testing.T) {
	q := &fakeQuerier{}
	e := NewEvaluator(Config{Source: staticSource(nil), Querier: q})
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("empty requirement list must allow")
	}
	if q.calls.Load() != 0 {
		t.Fatalf("no lookups expected, got %d", q.calls.Load())
	}
}

func TestEvaluateClassifiesChannels(t *testing.T) {
	q := &fakeQuerier{
		statuses: map[string]string{"@a": "member", "@b": "left", "@c": "administrator", "@d": "creator"},
		errs:     map[string]error{"@broken": errors.New("chat not found")},
	}
	channels := staticSource{
		handle("@a"), handle("@b"), invite("https://t.me/+x"), handle("@broken"), handle("@c"), handle("@d"),
	}
	e := NewEvaluator(Config{Source: channels, Querier: q})
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected denial")
	}
	if len(res.NotSubscribed) != 1 || res.NotSubscribed[0].Channel.Target != "@b" || res.NotSubscribed[0].Status != "left" {
		t.Fatalf("unexpected not subscribed: %+v", res.NotSubscribed)
	}
	if len(res.Inaccessible) != 1 || res.Inaccessible[0].Channel.Target != "@broken" {
		t.Fatalf("unexpected inaccessible: %+v", res.Inaccessible)
	}
	if len(res.InviteOnly) != 1 {
		t.Fatalf("invite links must be exempt, got %+v", res.InviteOnly)
	}
	if blocking := res.Blocking(); len(blocking) != 2 {
		t.Fatalf("expected two blocking channels, got %+v", blocking)
	}
}

func TestEvaluateFailsClosedOnLookupError(t *testing.T) {
	q := &fakeQuerier{
		statuses: map[string]string{"@ok": "member"},
		errs:     map[string]error{"@private": errors.New("bot is not a member of the channel chat")},
	}
	e := NewEvaluator(Config{Source: staticSource{handle("@ok"), handle("@private")}, Querier: q})
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatalf("lookup error must deny access")
	}
	if len(res.NotSubscribed) != 0 || len(res.Inaccessible) != 1 {
		t.Fatalf("unexpected buckets: %+v", res)
	}
}

func TestEvaluateInviteOnlyAllows(t *testing.T) {
	q := &fakeQuerier{}
	e := NewEvaluator(Config{Source: staticSource{invite("https://t.me/+x")}, Querier: q})
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Allowed || q.calls.Load() != 0 {
		t.Fatalf("invite-only list must allow without lookups: %+v calls=%d", res, q.calls.Load())
	}
}

func TestEvaluateTimesOutSlowLookups(t *testing.T) {
	q := &fakeQuerier{
		statuses: map[string]string{"@slow": "member"},
		block:    map[string]bool{"@slow": true},
	}
	e := NewEvaluator(Config{Source: staticSource{handle("@slow")}, Querier: q, Timeout: 20 * time.Millisecond})
	start := time.Now()
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("evaluation not capped: %s", elapsed)
	}
	if res.Allowed || len(res.Inaccessible) != 1 {
		t.Fatalf("timeout must count as inaccessible: %+v", res)
	}
	if res.Inaccessible[0].Reason != ReasonTimeout {
		t.Fatalf("expected timeout reason, got %q", res.Inaccessible[0].Reason)
	}
}

func TestEvaluateEmptyHandleIsInaccessible(t *testing.T) {
	q := &fakeQuerier{}
	e := NewEvaluator(Config{Source: staticSource{handle("  ")}, Querier: q})
	res, _ := e.Evaluate(context.Background(), 1)
	if res.Allowed || len(res.Inaccessible) != 1 || q.calls.Load() != 0 {
		t.Fatalf("empty handle must deny without lookup: %+v", res)
	}
	if res.Inaccessible[0].Reason != ReasonInvalid {
		t.Fatalf("unexpected reason %q", res.Inaccessible[0].Reason)
	}
}

func TestEvaluateReasonsNeverCarryErrorText(t *testing.T) {
	q := &fakeQuerier{errs: map[string]error{
		"@gone":   fmt.Errorf("lookup: %w", ErrChannelNotFound),
		"@closed": fmt.Errorf("lookup: %w", ErrChannelForbidden),
		"@net":    errors.New(`Post "https://api.example/bot123:SECRET/getChatMember": connection refused`),
	}}
	e := NewEvaluator(Config{Source: staticSource{handle("@gone"), handle("@closed"), handle("@net")}, Querier: q})
	res, err := e.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []string{ReasonNotFound, ReasonForbidden, ReasonUnavailable}
	if len(res.Inaccessible) != len(want) {
		t.Fatalf("unexpected inaccessible: %+v", res.Inaccessible)
	}
	for i, f := range res.Inaccessible {
		if f.Reason != want[i] {
			t.Fatalf("%s: expected %q, got %q", f.Channel.Target, want[i], f.Reason)
		}
		if strings.Contains(f.Reason, "SECRET") {
			t.Fatalf("reason leaks error text: %q", f.Reason)
		}
	}
}

func TestEvaluateSourceError(t *testing.T) {
	e := NewEvaluator(Config{Source: failingSource{}, Querier: &fakeQuerier{}})
	if _, err := e.Evaluate(context.Background(), 1); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestEvaluateUsesPositiveCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client, time.Minute)

	q := &fakeQuerier{statuses: map[string]string{"@a": "member", "@b": "left"}}
	e := NewEvaluator(Config{Source: staticSource{handle("@a"), handle("@b")}, Querier: q, Cache: cache})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Evaluate(ctx, 5); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	// @a is cached after the first pass; @b is never cached.
	if got := q.calls.Load(); got != 3 {
		t.Fatalf("expected 3 lookups, got %d", got)
	}
	mr.FastForward(2 * time.Minute)
	if cache.Satisfied(ctx, "@a", 5) {
		t.Fatalf("cache entry must expire")
	}
}

func TestIsSatisfied(t *testing.T) {
	for _, status := range []string{"member", "administrator", "creator", "owner", " Member "} {
		if !IsSatisfied(status) {
			t.Fatalf("%q should be satisfied", status)
		}
	}
	for _, status := range []string{"left", "kicked", "restricted", ""} {
		if IsSatisfied(status) {
			t.Fatalf("%q should not be satisfied", status)
		}
	}
}
