package marketplace

import (
	"strings"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// Bot commands and the text fragments the bot answers with.
const (
	cmdMarketplace = "/marketplace"
	cmdTransfer    = "/transfer"

	promptWhichToken   = "Which KRC20 token"
	promptBalance      = "Your balance is"
	promptRecipient    = "Enter the recipient's address"
	phraseTransferred  = "successfully transferred"
	buttonConfirm      = "Confirm"
	buttonMax          = "Max"
	verifyHistoryLimit = 3
)

var purchasePhrases = []string{
	"Purchase complete",
	"Transaction confirmed",
	"Successfully purchased",
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// findButton returns the first button whose trimmed label contains label,
// ignoring case.
func findButton(msg domain.BotMessage, label string) (domain.Button, bool) {
	want := strings.ToLower(label)
	for _, b := range msg.Buttons() {
		if strings.Contains(strings.ToLower(strings.TrimSpace(b.Label)), want) {
			return b, true
		}
	}
	return domain.Button{}, false
}
