// Package marketplacetest provides a scripted stand-in for the KSPR bot chat,
// for tests that drive the marketplace and transfer flows.
package marketplacetest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// Bot implements domain.ChatSession by replaying the bot's menus. Set the
// exported knobs before the first call.
type Bot struct {
	Symbol string
	Offers []string // button labels shown in the marketplace menu

	AskToken       bool // marketplace asks which token to buy
	Silent         bool // never reply
	NeverConfirm   bool // no purchase confirmation after Confirm
	SkipBalance    bool // transfer menu never shows the balance prompt
	TransferResult string

	mu      sync.Mutex
	history []domain.BotMessage // oldest first
	nextID  int
	state   string
	sent    []string
	clicks  []string
	reads   int
}

// NewBot returns a Bot selling symbol through offers.
func NewBot(symbol string, offers ...string) *Bot {
	return &Bot{
		Symbol:         symbol,
		Offers:         offers,
		AskToken:       true,
		TransferResult: "Your tokens were successfully transferred.",
		nextID:         100,
	}
}

func (b *Bot) SendMessage(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent = append(b.sent, text)
	b.push(domain.BotMessage{Text: text, Outgoing: true})
	if b.Silent {
		return nil
	}

	switch {
	case text == "/marketplace":
		if b.AskToken {
			b.state = "market-token"
			b.reply("Which KRC20 token do you want to buy?")
		} else {
			b.menu()
		}
	case text == "/transfer":
		b.state = "transfer-token"
		b.reply("Which KRC20 token do you want to transfer?")
	case b.state == "market-token" && text == b.Symbol:
		b.menu()
	case b.state == "transfer-token" && text == b.Symbol:
		if b.SkipBalance {
			b.reply("Something went wrong")
			return nil
		}
		b.state = "transfer-balance"
		b.reply("Your balance is 1,000 "+b.Symbol, "Max", "max", "Cancel", "cancel")
	case b.state == "transfer-address" && strings.HasPrefix(text, "kaspa:"):
		b.state = "transfer-confirm"
		b.reply("Send all "+b.Symbol+" to "+text+"?", "✅ Confirm", "confirm", "Cancel", "cancel")
	default:
		b.reply("Unknown command")
	}
	return nil
}

func (b *Bot) RecentMessages(_ context.Context, limit int) ([]domain.BotMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reads++
	var out []domain.BotMessage
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.history[i])
	}
	return out, nil
}

func (b *Bot) ClickButton(_ context.Context, sel domain.ButtonSelector) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := string(sel.Data)
	b.clicks = append(b.clicks, data)

	switch {
	case strings.HasPrefix(data, "offer:"):
		b.state = "market-confirm"
		b.reply("Buy "+data+"?", "Confirm", "confirm", "Cancel", "cancel")
	case data == "confirm" && b.state == "market-confirm":
		b.state = ""
		if !b.NeverConfirm {
			b.reply("Purchase complete! Tokens added to your wallet.")
		}
	case data == "max":
		b.state = "transfer-address"
		b.reply("Enter the recipient's address")
	case data == "confirm" && b.state == "transfer-confirm":
		b.state = ""
		b.reply(b.TransferResult)
	default:
		return fmt.Errorf("unexpected click %q in state %q", data, b.state)
	}
	return nil
}

// Reply appends a bot message. Buttons are label, data pairs, one per row.
func (b *Bot) Reply(text string, buttons ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply(text, buttons...)
}

// History returns the chat, oldest first.
func (b *Bot) History() []domain.BotMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.history)
}

// Sent returns the texts sent to the bot.
func (b *Bot) Sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

// Clicks returns the callback data of every pressed button.
func (b *Bot) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.clicks)
}

// Clicked reports whether a button with data was pressed.
func (b *Bot) Clicked(data string) bool {
	return slices.Contains(b.Clicks(), data)
}

// Reads counts RecentMessages calls.
func (b *Bot) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *Bot) push(m domain.BotMessage) domain.BotMessage {
	b.nextID++
	m.ID = b.nextID
	b.history = append(b.history, m)
	return m
}

func (b *Bot) reply(text string, buttons ...string) {
	m := b.push(domain.BotMessage{Text: text})
	for i := 0; i+1 < len(buttons); i += 2 {
		m.Rows = append(m.Rows, []domain.Button{{
			Label:    buttons[i],
			Selector: domain.ButtonSelector{MessageID: m.ID, Data: []byte(buttons[i+1])},
		}})
	}
	b.history[len(b.history)-1] = m
}

func (b *Bot) menu() {
	b.state = "market-menu"
	var buttons []string
	for i, label := range b.Offers {
		buttons = append(buttons, label, fmt.Sprintf("offer:%d", i))
	}
	buttons = append(buttons, "« Back", "back")
	b.reply("Open orders for "+b.Symbol, buttons...)
}

var _ domain.ChatSession = (*Bot)(nil)
