// Package mail turns marketplace notification emails into trade requests.
package mail

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// SubjectPhrases are the notification subjects the intake reacts to.
var SubjectPhrases = []string{
	"Congratulations - Your listing",
	"Tokens Successfully Sold",
	"Purchase complete",
	"Transaction confirmed",
}

// sellPhrases mark a notification about one of our own listings selling.
var sellPhrases = []string{"Successfully Sold", "Your listing"}

type tokenPattern struct {
	re          *regexp.Regexp
	qtyGroup    int
	symbolGroup int
}

// Tried in order; the first match wins.
var tokenPatterns = []tokenPattern{
	{regexp.MustCompile(`(?i)(\d+(?:,\d+)*)\s+(\w+)\s+tokens?`), 1, 2},
	{regexp.MustCompile(`(?i)Ticker:\s*(\w+)\s*Quantity:\s*(\d+(?:,\d+)*)`), 2, 1},
	{regexp.MustCompile(`(?i)(\d+(?:,\d+)*)\s+(\w+)`), 1, 2},
}

var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*KAS`),
	regexp.MustCompile(`(?i)Total Price:\s*(\d+\.?\d*)\s*KAS`),
	regexp.MustCompile(`(?i)Price per unit:\s*(\d+\.?\d*)\s*KAS`),
}

var orderIDPattern = regexp.MustCompile(`Order Id:\s*([a-zA-Z0-9]+)`)

// BuildQuery returns the mailbox search expression for notifications sent by
// sender.
func BuildQuery(sender string) string {
	var b strings.Builder
	b.WriteString("from:")
	b.WriteString(sender)
	for i, phrase := range SubjectPhrases {
		if i > 0 {
			b.WriteString(" OR")
		}
		b.WriteString(` subject:"`)
		b.WriteString(phrase)
		b.WriteString(`"`)
	}
	return b.String()
}

// MatchesSubject reports whether subject contains one of the notification
// phrases. Matching is case-sensitive.
func MatchesSubject(subject string) bool {
	for _, phrase := range SubjectPhrases {
		if strings.Contains(subject, phrase) {
			return true
		}
	}
	return false
}

// ClassifySubject derives the transaction type from the subject line.
func ClassifySubject(subject string) domain.TransactionType {
	for _, phrase := range sellPhrases {
		if strings.Contains(subject, phrase) {
			return domain.TransactionSell
		}
	}
	return domain.TransactionBuy
}

// DecodeBody returns the plain text of a message: the first MIME part when the
// message has parts, otherwise the top-level body.
func DecodeBody(msg domain.MailMessage) (string, error) {
	data := msg.BodyData
	if len(msg.PartData) > 0 {
		data = msg.PartData[0]
	}
	if data == "" {
		return "", fmt.Errorf("%w: empty body", domain.ErrUnparsable)
	}
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail usually strips the padding.
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", fmt.Errorf("%w: decode body: %v", domain.ErrUnparsable, err)
		}
	}
	return string(raw), nil
}

// ParseSaleEmail extracts a SaleRecord from a notification email. It returns an
// error wrapping domain.ErrUnparsable when the subject does not match or the
// body lacks a token or price.
func ParseSaleEmail(msg domain.MailMessage) (domain.SaleRecord, error) {
	if !MatchesSubject(msg.Subject) {
		return domain.SaleRecord{}, fmt.Errorf("%w: unexpected subject %q", domain.ErrUnparsable, msg.Subject)
	}

	body, err := DecodeBody(msg)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	rec, err := ParseBody(body)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	rec.Subject = msg.Subject
	rec.Type = ClassifySubject(msg.Subject)
	rec.MessageID = msg.ID
	return rec, nil
}

// ParseBody applies the token, price and order id patterns to a decoded body.
func ParseBody(body string) (domain.SaleRecord, error) {
	var rec domain.SaleRecord

	qty, symbol, ok := matchToken(body)
	if !ok {
		return rec, fmt.Errorf("%w: no token information", domain.ErrUnparsable)
	}
	quantity, err := strconv.ParseInt(strings.ReplaceAll(qty, ",", ""), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("%w: quantity %q: %v", domain.ErrUnparsable, qty, err)
	}
	if quantity <= 0 {
		return rec, fmt.Errorf("%w: quantity %d must be positive", domain.ErrUnparsable, quantity)
	}

	price, ok := matchPrice(body)
	if !ok {
		return rec, fmt.Errorf("%w: no price information", domain.ErrUnparsable)
	}
	priceKAS, err := decimal.NewFromString(price)
	if err != nil {
		return rec, fmt.Errorf("%w: price %q: %v", domain.ErrUnparsable, price, err)
	}

	rec.TokenSymbol = symbol
	rec.Quantity = quantity
	rec.PriceKAS = priceKAS
	if m := orderIDPattern.FindStringSubmatch(body); m != nil {
		rec.OrderID = m[1]
	}
	return rec, nil
}

func matchToken(body string) (qty, symbol string, ok bool) {
	for _, p := range tokenPatterns {
		if m := p.re.FindStringSubmatch(body); m != nil {
			return m[p.qtyGroup], m[p.symbolGroup], true
		}
	}
	return "", "", false
}

func matchPrice(body string) (string, bool) {
	for _, re := range pricePatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	}
	return "", false
}
