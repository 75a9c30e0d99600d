// Package marketplace drives the KSPR bot's button menus to buy and transfer
// KRC-20 tokens.
package marketplace

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

var amountMultipliers = map[byte]int64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

// IsOfferLabel reports whether a button label looks like a sell offer for
// symbol.
func IsOfferLabel(label, symbol string) bool {
	return strings.Contains(label, "→") &&
		strings.Contains(label, "KAS") &&
		strings.Contains(label, symbol)
}

// ParseOfferLabel parses "<amount>[K|M|B] <symbol> → <total> KAS | <unit>".
func ParseOfferLabel(label string) (domain.MarketOffer, error) {
	left, right, ok := strings.Cut(label, "→")
	if !ok || strings.Contains(right, "→") {
		return domain.MarketOffer{}, errors.New("expected exactly one arrow")
	}

	fields := strings.Fields(left)
	if len(fields) == 0 {
		return domain.MarketOffer{}, errors.New("missing amount")
	}
	amount, err := parseAmount(fields[0])
	if err != nil {
		return domain.MarketOffer{}, err
	}

	totalText, _, ok := strings.Cut(right, "KAS")
	if !ok {
		return domain.MarketOffer{}, errors.New("missing KAS total")
	}
	total, err := decimal.NewFromString(strings.TrimSpace(totalText))
	if err != nil {
		return domain.MarketOffer{}, fmt.Errorf("total price: %w", err)
	}

	parts := strings.Split(right, "|")
	if len(parts) < 2 {
		return domain.MarketOffer{}, errors.New("missing unit price")
	}
	unit, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return domain.MarketOffer{}, fmt.Errorf("unit price: %w", err)
	}

	return domain.MarketOffer{
		DisplayText:   label,
		TokenAmount:   amount,
		TotalPriceKAS: total,
		UnitPriceKAS:  unit,
	}, nil
}

func parseAmount(s string) (int64, error) {
	mult := int64(1)
	if m, ok := amountMultipliers[s[len(s)-1]]; ok {
		mult = m
	}
	base, err := decimal.NewFromString(strings.TrimRight(s, "KMB"))
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return base.Mul(decimal.NewFromInt(mult)).IntPart(), nil
}

// ParseOffers extracts every parseable offer for symbol from the message's
// buttons, sorted by unit price ascending. Buttons that fail to parse are
// skipped.
func ParseOffers(msg domain.BotMessage, symbol string) []domain.MarketOffer {
	var offers []domain.MarketOffer
	for _, b := range msg.Buttons() {
		if !IsOfferLabel(b.Label, symbol) {
			continue
		}
		offer, err := ParseOfferLabel(b.Label)
		if err != nil {
			continue
		}
		offer.Selector = b.Selector
		offers = append(offers, offer)
	}
	SortOffers(offers)
	return offers
}

// SortOffers orders offers by unit price ascending. Offers with equal unit
// prices keep their original order.
func SortOffers(offers []domain.MarketOffer) {
	slices.SortStableFunc(offers, func(a, b domain.MarketOffer) int {
		return a.UnitPriceKAS.Cmp(b.UnitPriceKAS)
	})
}
