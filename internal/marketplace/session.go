package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// Timing holds the fixed waits between bot interactions.
type Timing struct {
	StepDelay      time.Duration
	ActionDelay    time.Duration
	VerifyAttempts int
	VerifyInterval time.Duration
}

// conversation wraps a chat session with the helpers shared by the purchase
// and transfer flows.
type conversation struct {
	session domain.ChatSession
	sleepFn func(ctx context.Context, d time.Duration) error
}

// latest returns the newest message of the chat if the bot sent it.
func (c conversation) latest(ctx context.Context) (domain.BotMessage, error) {
	msgs, err := c.session.RecentMessages(ctx, 1)
	if err != nil {
		return domain.BotMessage{}, fmt.Errorf("read history: %w", err)
	}
	if len(msgs) == 0 || msgs[0].Outgoing {
		return domain.BotMessage{}, ErrNoBotReply
	}
	return msgs[0], nil
}

func (c conversation) send(ctx context.Context, text string, wait time.Duration) error {
	if err := c.session.SendMessage(ctx, text); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}
	return c.sleepFn(ctx, wait)
}

func (c conversation) click(ctx context.Context, sel domain.ButtonSelector, wait time.Duration) error {
	if err := c.session.ClickButton(ctx, sel); err != nil {
		return fmt.Errorf("click button: %w", err)
	}
	return c.sleepFn(ctx, wait)
}

// clickLabeled finds a button by label on the latest bot message and presses
// it. It returns the message the button belonged to.
func (c conversation) clickLabeled(ctx context.Context, label string, wait time.Duration) (domain.BotMessage, error) {
	msg, err := c.latest(ctx)
	if err != nil {
		return domain.BotMessage{}, err
	}
	btn, ok := findButton(msg, label)
	if !ok {
		return msg, fmt.Errorf("%w: %q button", ErrPromptMissing, label)
	}
	return msg, c.click(ctx, btn.Selector, wait)
}

// answerTokenPrompt sends symbol if the bot asked which token to use.
func (c conversation) answerTokenPrompt(ctx context.Context, symbol string, wait time.Duration) error {
	msg, err := c.latest(ctx)
	if err != nil {
		// The caller's next read surfaces the problem.
		return nil
	}
	if containsAny(msg.Text, []string{promptWhichToken}) {
		return c.send(ctx, symbol, wait)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
