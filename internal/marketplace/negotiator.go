package marketplace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// MaxTotalPriceKAS is the absolute ceiling for a single purchase.
var MaxTotalPriceKAS = decimal.NewFromInt(15000)

// NegotiatorConfig holds purchase settings.
type NegotiatorConfig struct {
	Timing
	// MaxTotalPrice is clamped to MaxTotalPriceKAS.
	MaxTotalPrice decimal.Decimal
	DryRun        bool
}

// Negotiator buys the cheapest offer for a token through the marketplace
// menu.
type Negotiator struct {
	conv    conversation
	cfg     NegotiatorConfig
	ceiling decimal.Decimal
	logger  *slog.Logger
}

// NewNegotiator creates a Negotiator driving session.
func NewNegotiator(session domain.ChatSession, cfg NegotiatorConfig, logger *slog.Logger) *Negotiator {
	ceiling := MaxTotalPriceKAS
	if cfg.MaxTotalPrice.IsPositive() && cfg.MaxTotalPrice.LessThan(ceiling) {
		ceiling = cfg.MaxTotalPrice
	}
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = 1
	}
	return &Negotiator{
		conv:    conversation{session: session, sleepFn: sleep},
		cfg:     cfg,
		ceiling: ceiling,
		logger:  logger.With(slog.String("component", "negotiator")),
	}
}

// Ceiling returns the effective total price limit.
func (n *Negotiator) Ceiling() decimal.Decimal { return n.ceiling }

// Negotiate opens the marketplace for symbol, picks the offer with the lowest
// unit price, enforces maxUnitPrice and the total ceiling, then buys and
// verifies it. The purchased offer is returned on success.
func (n *Negotiator) Negotiate(ctx context.Context, symbol string, maxUnitPrice decimal.Decimal) (domain.MarketOffer, error) {
	log := n.logger.With(slog.String("token", symbol))
	delay := n.cfg.StepDelay

	if err := n.conv.send(ctx, cmdMarketplace, delay); err != nil {
		return domain.MarketOffer{}, err
	}
	if err := n.conv.answerTokenPrompt(ctx, symbol, delay); err != nil {
		return domain.MarketOffer{}, err
	}

	menu, err := n.conv.latest(ctx)
	if err != nil {
		return domain.MarketOffer{}, err
	}

	offers := ParseOffers(menu, symbol)
	if len(offers) == 0 {
		return domain.MarketOffer{}, fmt.Errorf("%w for %s", ErrNoOffers, symbol)
	}
	best := offers[0]
	log.Info("offers found",
		slog.Int("count", len(offers)),
		slog.String("best_unit_price", best.UnitPriceKAS.String()),
		slog.String("best_total_price", best.TotalPriceKAS.String()),
	)

	if best.UnitPriceKAS.GreaterThan(maxUnitPrice) {
		return best, fmt.Errorf("%w: %s > %s", ErrPriceAboveLimit, best.UnitPriceKAS, maxUnitPrice)
	}
	if best.TotalPriceKAS.GreaterThan(n.ceiling) {
		return best, fmt.Errorf("%w: %s > %s", ErrTotalAboveCeiling, best.TotalPriceKAS, n.ceiling)
	}
	if n.cfg.DryRun {
		log.Info("dry run, not buying", slog.String("offer", best.DisplayText))
		return best, ErrDryRun
	}

	if err := n.conv.click(ctx, best.Selector, n.cfg.ActionDelay); err != nil {
		return best, err
	}
	confirm, err := n.conv.clickLabeled(ctx, buttonConfirm, 0)
	if err != nil {
		return best, err
	}

	if err := n.verify(ctx, confirm.ID); err != nil {
		return best, err
	}
	return best, nil
}

// verify polls the recent history for a purchase confirmation. Bot messages
// older than sinceID predate this purchase and are ignored.
func (n *Negotiator) verify(ctx context.Context, sinceID int) error {
	for attempt := 1; attempt <= n.cfg.VerifyAttempts; attempt++ {
		if err := n.conv.sleepFn(ctx, n.cfg.VerifyInterval); err != nil {
			return err
		}
		msgs, err := n.conv.session.RecentMessages(ctx, verifyHistoryLimit)
		if err != nil {
			n.logger.Warn("verify read failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}
		for _, m := range msgs {
			if !m.Outgoing && m.ID >= sinceID && containsAny(m.Text, purchasePhrases) {
				return nil
			}
		}
		n.logger.Debug("purchase not confirmed yet",
			slog.Int("attempt", attempt),
			slog.Int("of", n.cfg.VerifyAttempts),
		)
	}
	return fmt.Errorf("%w after %d attempts", ErrUnverified, n.cfg.VerifyAttempts)
}
