package marketplace

import "errors"

var (
	ErrNoBotReply        = errors.New("marketplace: no reply from bot")
	ErrNoOffers          = errors.New("marketplace: no offers found")
	ErrPriceAboveLimit   = errors.New("marketplace: unit price above limit")
	ErrTotalAboveCeiling = errors.New("marketplace: total price above ceiling")
	ErrPromptMissing     = errors.New("marketplace: expected prompt missing")
	ErrUnverified        = errors.New("marketplace: purchase not verified")
	ErrTransferFailed    = errors.New("marketplace: transfer not confirmed")
	ErrDryRun            = errors.New("marketplace: dry run, offer not taken")
)
