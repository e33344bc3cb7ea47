package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"kinobot/pkg/gate"
	"kinobot/services/bot/internal/app"
)

// Config configures the Bot API client.
type Config struct {
	Token string
	// APIEndpoint is a printf pattern taking the token and method; empty means
	// the public Bot API.
	APIEndpoint string
	HTTPClient  *http.Client
}

// Client adapts the Telegram Bot API to the bot core: it is both the reply
// transport and the membership lookup used by the gate.
type Client struct {
	bot *tgbotapi.BotAPI
}

// New authenticates with getMe and returns a ready client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", scrub(err))
	}
	return &Client{bot: bot}, nil
}

// Username is the bot's own username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(msg); err != nil {
		return fmt.Errorf("telegram %T: %w", msg, scrub(err))
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendMenu shows text with a persistent reply keyboard.
func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, rows [][]string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = replyKeyboard(rows)
	return c.send(ctx, msg)
}

// SendOptions shows text with one inline button per option.
func (c *Client) SendOptions(ctx context.Context, chatID int64, text string, options []app.Option) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(options) > 0 {
		msg.ReplyMarkup = inlineKeyboard(options)
	}
	return c.send(ctx, msg)
}

// SendMedia re-sends a stored video by its file id.
func (c *Client) SendMedia(ctx context.Context, chatID int64, mediaRef, caption string) error {
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileID(mediaRef))
	video.Caption = truncateCaption(caption)
	return c.send(ctx, video)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.send(ctx, tgbotapi.NewCallback(callbackID, text))
}

// QueryMembership returns the member status of userID in the channel
// addressed by handle. Restricted users that are still members count as
// "member".
func (c *Client) QueryMembership(ctx context.Context, handle string, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: handle,
			UserID:             userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("getChatMember %s: %w", handle, membershipError(err))
	}
	if member.Status == "restricted" && member.IsMember {
		return "member", nil
	}
	return member.Status, nil
}

// scrub drops the request URL from transport errors; it embeds the bot token.
func scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("bot api %s: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

// membershipError tags Bot API refusals with the gate's failure kinds.
func membershipError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return scrub(err)
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", gate.ErrChannelNotFound, apiErr.Message)
	case apiErr.Code == http.StatusForbidden, strings.Contains(msg, "inaccessible"), strings.Contains(msg, "rights"):
		return fmt.Errorf("%w: %s", gate.ErrChannelForbidden, apiErr.Message)
	default:
		return fmt.Errorf("bot api %d: %s", apiErr.Code, apiErr.Message)
	}
}

// EnsureWebhook registers webhookURL unless it is already the active webhook.
// It reports whether a new registration was made.
func (c *Client) EnsureWebhook(ctx context.Context, webhookURL, secret string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := c.bot.GetWebhookInfo()
	if err != nil {
		return false, fmt.Errorf("getWebhookInfo: %w", scrub(err))
	}
	if info.URL == webhookURL {
		return false, nil
	}
	params := tgbotapi.Params{
		"url":             webhookURL,
		"allowed_updates": `["message","callback_query"]`,
	}
	if secret != "" {
		params["secret_token"] = secret
	}
	if _, err := c.bot.MakeRequest("setWebhook", params); err != nil {
		return false, fmt.Errorf("setWebhook: %w", scrub(err))
	}
	return true, nil
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	keyboard := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewReplyKeyboard(keyboard...)
}

func inlineKeyboard(options []app.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		var button tgbotapi.InlineKeyboardButton
		if opt.URL != "" {
			button = tgbotapi.NewInlineKeyboardButtonURL(opt.Label, opt.URL)
		} else {
			button = tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Action)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

const maxCaptionRunes = 1024

func truncateCaption(caption string) string {
	runes := []rune(caption)
	if len(runes) <= maxCaptionRunes {
		return caption
	}
	return string(runes[:maxCaptionRunes-1]) + "…"
}

// EventFromUpdate converts an update into a core event. Updates the bot does
// not act on return false.
func EventFromUpdate(u tgbotapi.Update) (app.Event, bool) {
	if cb := u.CallbackQuery; cb != nil {
		if cb.From == nil {
			return nil, false
		}
		chatID := cb.From.ID
		if cb.Message != nil && cb.Message.Chat != nil {
			chatID = cb.Message.Chat.ID
		}
		return app.CallbackEvent{UserID: cb.From.ID, ChatID: chatID, CallbackID: cb.ID, Data: cb.Data}, true
	}
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil, false
	}
	if ref := videoRef(msg); ref != "" {
		return app.MediaEvent{UserID: msg.From.ID, ChatID: msg.Chat.ID, MediaRef: ref}, true
	}
	if msg.Text != "" {
		return app.TextEvent{UserID: msg.From.ID, ChatID: msg.Chat.ID, Text: msg.Text}, true
	}
	return nil, false
}

func videoRef(msg *tgbotapi.Message) string {
	if msg.Video != nil {
		return msg.Video.FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/") {
		return msg.Document.FileID
	}
	return ""
}
