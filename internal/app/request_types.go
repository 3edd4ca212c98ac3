package app

import "github.com/shopspring/decimal"

// OpeningBalanceRequest is the input for SetOpeningBalance.
type OpeningBalanceRequest struct {
	BalanceID int
	Opening   decimal.Decimal
}

// InterpretRequest is the input for InterpretMovement.
type InterpretRequest struct {
	Text string
}
