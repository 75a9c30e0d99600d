package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// TransferExecutor sends the whole balance of a token to a fixed wallet and
// starts the listing automation afterwards.
type TransferExecutor struct {
	conv    conversation
	timing  Timing
	address string
	listing domain.ListingTrigger
	logger  *slog.Logger
}

// NewTransferExecutor creates a TransferExecutor. listing may be nil.
func NewTransferExecutor(session domain.ChatSession, timing Timing, address string, listing domain.ListingTrigger, logger *slog.Logger) *TransferExecutor {
	return &TransferExecutor{
		conv:    conversation{session: session, sleepFn: sleep},
		timing:  timing,
		address: address,
		listing: listing,
		logger:  logger.With(slog.String("component", "transfer")),
	}
}

// Transfer walks the bot's transfer menu for symbol. Every prompt must appear
// in turn; a missing one aborts the transfer without retrying.
func (t *TransferExecutor) Transfer(ctx context.Context, symbol string) error {
	delay := t.timing.ActionDelay

	if err := t.conv.send(ctx, cmdTransfer, delay); err != nil {
		return err
	}
	if err := t.conv.answerTokenPrompt(ctx, symbol, delay); err != nil {
		return err
	}

	if err := t.expect(ctx, promptBalance); err != nil {
		return err
	}
	if _, err := t.conv.clickLabeled(ctx, buttonMax, delay); err != nil {
		return err
	}

	if err := t.expect(ctx, promptRecipient); err != nil {
		return err
	}
	if err := t.conv.send(ctx, t.address, delay); err != nil {
		return err
	}

	if _, err := t.conv.clickLabeled(ctx, buttonConfirm, delay); err != nil {
		return err
	}

	msg, err := t.conv.latest(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(msg.Text, phraseTransferred) {
		return fmt.Errorf("%w: last reply %q", ErrTransferFailed, msg.Text)
	}

	t.logger.Info("tokens transferred", slog.String("token", symbol), slog.String("to", t.address))
	if t.listing != nil {
		t.listing.Trigger(context.WithoutCancel(ctx), symbol)
	}
	return nil
}

func (t *TransferExecutor) expect(ctx context.Context, prompt string) error {
	msg, err := t.conv.latest(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(msg.Text, prompt) {
		return fmt.Errorf("%w: %q", ErrPromptMissing, prompt)
	}
	return nil
}
