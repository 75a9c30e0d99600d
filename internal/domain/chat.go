package domain

import "context"

// ButtonSelector is the opaque reference needed to press an inline button.
type ButtonSelector struct {
	MessageID int
	Data      []byte
}

// Button is a single inline keyboard button.
type Button struct {
	Label    string
	Selector ButtonSelector
}

// BotMessage is one message of the chat with the marketplace bot.
type BotMessage struct {
	ID       int
	Text     string
	Outgoing bool // sent by us rather than the bot
	Rows     [][]Button
}

// Buttons flattens the button grid in row order.
func (m BotMessage) Buttons() []Button {
	var out []Button
	for _, row := range m.Rows {
		out = append(out, row...)
	}
	return out
}

// ChatSession is the capability used to drive the marketplace bot. Only one
// trade sequence may use a session at a time.
type ChatSession interface {
	SendMessage(ctx context.Context, text string) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]BotMessage, error)
	ClickButton(ctx context.Context, sel ButtonSelector) error
}

// ListingTrigger starts the downstream listing automation. Implementations
// must not block the caller on the external process.
type ListingTrigger interface {
	Trigger(ctx context.Context, tokenSymbol string)
}
