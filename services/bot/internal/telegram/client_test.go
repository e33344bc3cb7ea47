package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"kinobot/pkg/domain"
	"kinobot/pkg/gate"
	"kinobot/services/bot/internal/app"
)

type apiCall struct {
	method string
	form   map[string]string
}

type fakeAPI struct {
	mu         sync.Mutex
	calls      []apiCall
	webhookURL string
	members    map[string]map[string]any
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths look like /bot<token>/<method>.
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, form: form})
		f.mu.Unlock()

		var result any
		switch method {
		case "getMe":
			result = map[string]any{"id": 1, "is_bot": true, "first_name": "Kino", "username": "kino_bot"}
		case "sendMessage", "sendVideo":
			result = map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 5, "type": "private"}}
		case "answerCallbackQuery", "setWebhook":
			result = true
		case "getWebhookInfo":
			result = map[string]any{"url": f.webhookURL, "has_custom_certificate": false, "pending_update_count": 0}
		case "getChatMember":
			member, ok := f.members[form["chat_id"]]
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
				return
			}
			result = member
		default:
			t.Errorf("unexpected method %s", method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	})
}

func (f *fakeAPI) callsOf(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client, err := New(Config{Token: "TOKEN", APIEndpoint: srv.URL + "/bot%s/%s", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestClientSendsReplies(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	ctx := context.Background()
	if c.Username() != "kino_bot" {
		t.Fatalf("unexpected username %q", c.Username())
	}

	if err := c.SendMenu(ctx, 5, "menu", [][]string{{"a", "b"}, {"c"}}); err != nil {
		t.Fatalf("send menu: %v", err)
	}
	if err := c.SendOptions(ctx, 5, "panel", []app.Option{
		{Label: "1-kanal", URL: "https://t.me/kino"},
		{Label: "ok", Action: app.ActionCheckSubscription},
	}); err != nil {
		t.Fatalf("send options: %v", err)
	}
	if err := c.SendMedia(ctx, 5, "FILE", "caption"); err != nil {
		t.Fatalf("send media: %v", err)
	}
	if err := c.AnswerCallback(ctx, "cb", ""); err != nil {
		t.Fatalf("answer: %v", err)
	}

	msgs := api.callsOf("sendMessage")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].form["reply_markup"], `"keyboard"`) {
		t.Fatalf("menu must carry a reply keyboard: %s", msgs[0].form["reply_markup"])
	}
	markup := msgs[1].form["reply_markup"]
	if !strings.Contains(markup, "https://t.me/kino") || !strings.Contains(markup, app.ActionCheckSubscription) {
		t.Fatalf("unexpected inline keyboard: %s", markup)
	}
	videos := api.callsOf("sendVideo")
	if len(videos) != 1 || videos[0].form["video"] != "FILE" || videos[0].form["caption"] != "caption" {
		t.Fatalf("unexpected video call: %+v", videos)
	}
	if len(api.callsOf("answerCallbackQuery")) != 1 {
		t.Fatalf("callback not answered")
	}
}

func TestQueryMembership(t *testing.T) {
	api := &fakeAPI{members: map[string]map[string]any{
		"@open":       {"status": "member", "user": map[string]any{"id": 5, "is_bot": false, "first_name": "u"}},
		"@restricted": {"status": "restricted", "is_member": true, "user": map[string]any{"id": 5, "is_bot": false, "first_name": "u"}},
		"@gone":       {"status": "left", "user": map[string]any{"id": 5, "is_bot": false, "first_name": "u"}},
	}}
	c := newTestClient(t, api)
	ctx := context.Background()

	cases := map[string]string{"@open": "member", "@restricted": "member", "@gone": "left"}
	for handle, want := range cases {
		got, err := c.QueryMembership(ctx, handle, 5)
		if err != nil {
			t.Fatalf("%s: %v", handle, err)
		}
		if got != want {
			t.Fatalf("%s: expected %q, got %q", handle, want, got)
		}
	}
	if _, err := c.QueryMembership(ctx, "@missing", 5); !errors.Is(err, gate.ErrChannelNotFound) {
		t.Fatalf("expected channel not found, got %v", err)
	}
	if got := api.callsOf("getChatMember")[0].form["user_id"]; got != "5" {
		t.Fatalf("unexpected user id %q", got)
	}
}

func TestQueryMembershipHonoursCancelledContext(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.QueryMembership(ctx, "@open", 5); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestEnsureWebhook(t *testing.T) {
	api := &fakeAPI{webhookURL: "https://old.example.com/hook"}
	c := newTestClient(t, api)
	ctx := context.Background()

	changed, err := c.EnsureWebhook(ctx, "https://bot.example.com/hook", "s3cret")
	if err != nil || !changed {
		t.Fatalf("expected registration: %v %v", changed, err)
	}
	calls := api.callsOf("setWebhook")
	if len(calls) != 1 || calls[0].form["url"] != "https://bot.example.com/hook" || calls[0].form["secret_token"] != "s3cret" {
		t.Fatalf("unexpected setWebhook: %+v", calls)
	}

	api.mu.Lock()
	api.webhookURL = "https://bot.example.com/hook"
	api.mu.Unlock()
	changed, err = c.EnsureWebhook(ctx, "https://bot.example.com/hook", "s3cret")
	if err != nil || changed {
		t.Fatalf("matching webhook must not be re-registered: %v %v", changed, err)
	}
	if len(api.callsOf("setWebhook")) != 1 {
		t.Fatalf("setWebhook called again")
	}
}

func TestEventFromUpdate(t *testing.T) {
	user := &tgbotapi.User{ID: 7}
	chat := &tgbotapi.Chat{ID: 70}

	ev, ok := EventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{From: user, Chat: chat, Text: "A1"}})
	if !ok || ev != (app.TextEvent{UserID: 7, ChatID: 70, Text: "A1"}) {
		t.Fatalf("unexpected text event %#v", ev)
	}

	ev, ok = EventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{From: user, Chat: chat, Video: &tgbotapi.Video{FileID: "vid"}, Caption: "x"}})
	if !ok || ev != (app.MediaEvent{UserID: 7, ChatID: 70, MediaRef: "vid"}) {
		t.Fatalf("unexpected media event %#v", ev)
	}

	doc := &tgbotapi.Document{FileID: "doc", MimeType: "video/mp4"}
	ev, ok = EventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{From: user, Chat: chat, Document: doc}})
	if !ok || ev.(app.MediaEvent).MediaRef != "doc" {
		t.Fatalf("video documents must be media: %#v", ev)
	}

	pdf := &tgbotapi.Document{FileID: "pdf", MimeType: "application/pdf"}
	if _, ok := EventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{From: user, Chat: chat, Document: pdf}}); ok {
		t.Fatalf("non-video documents must be ignored")
	}

	ev, ok = EventFromUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", From: user, Data: app.ActionCheckSubscription, Message: &tgbotapi.Message{Chat: chat},
	}})
	if !ok || ev != (app.CallbackEvent{UserID: 7, ChatID: 70, CallbackID: "cb", Data: app.ActionCheckSubscription}) {
		t.Fatalf("unexpected callback event %#v", ev)
	}

	if _, ok := EventFromUpdate(tgbotapi.Update{}); ok {
		t.Fatalf("empty update must be ignored")
	}
}

type channelList []domain.ChannelRequirement

func (l channelList) GetChannels(context.Context) ([]domain.ChannelRequirement, error) {
	return l, nil
}

func TestTransportErrorsHideToken(t *testing.T) {
	const token = "123:SECRET"
	srv := httptest.NewServer((&fakeAPI{}).handler(t))
	c, err := New(Config{Token: token, APIEndpoint: srv.URL + "/bot%s/%s", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	srv.Close()
	ctx := context.Background()

	evaluator := gate.NewEvaluator(gate.Config{
		Source:  channelList{{Kind: domain.ChannelHandle, Target: "@chan"}},
		Querier: c,
	})
	res, err := evaluator.Evaluate(ctx, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed || len(res.Inaccessible) != 1 {
		t.Fatalf("unreachable api must deny: %+v", res)
	}
	if reason := res.Inaccessible[0].Reason; strings.Contains(reason, token) {
		t.Fatalf("reason leaks token: %q", reason)
	}

	if _, err := c.QueryMembership(ctx, "@chan", 5); err == nil || strings.Contains(err.Error(), token) {
		t.Fatalf("membership error must not carry the token: %v", err)
	}
	if err := c.SendText(ctx, 5, "hi"); err == nil || strings.Contains(err.Error(), token) {
		t.Fatalf("send error must not carry the token: %v", err)
	}
	if _, err := c.EnsureWebhook(ctx, "https://bot.example.com/hook", ""); err == nil || strings.Contains(err.Error(), token) {
		t.Fatalf("webhook error must not carry the token: %v", err)
	}
}
