package app

import (
	"context"

	"kinobot/pkg/gate"
)

// Event is one inbound interaction, tagged with the sender and the chat to
// reply to.
type Event interface {
	Sender() int64
	Chat() int64
}

type TextEvent struct {
	UserID int64
	ChatID int64
	Text   string
}

// MediaEvent carries an opaque, transport-issued media reference.
type MediaEvent struct {
	UserID   int64
	ChatID   int64
	MediaRef string
}

type CallbackEvent struct {
	UserID     int64
	ChatID     int64
	CallbackID string
	Data       string
}

func (e TextEvent) Sender() int64 { return e.UserID }
func (e TextEvent) Chat() int64 { return e.ChatID }
func (e MediaEvent) Sender() int64 { return e.UserID }
func (e MediaEvent) Chat() int64 { return e.ChatID }
func (e CallbackEvent) Sender() int64 { return e.UserID }
func (e CallbackEvent) Chat() int64 { return e.ChatID }

// Option is one entry of an inline selection. Exactly one of URL and Action is set.
type Option struct {
	Label  string
	URL    string
	Action string
}

// Transport delivers replies to the chat platform.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	// SendMenu shows text with a persistent keyboard of label rows.
	SendMenu(ctx context.Context, chatID int64, text string, rows [][]string) error
	SendOptions(ctx context.Context, chatID int64, text string, options []Option) error
	SendMedia(ctx context.Context, chatID int64, mediaRef, caption string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Gatekeeper decides whether a user may receive content.
type Gatekeeper interface {
	Evaluate(ctx context.Context, userID int64) (gate.Result, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID int64) bool
}
