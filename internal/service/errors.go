package service

import (
	"errors"
	"fmt"
)

// Stable reason codes carried by RejectedError.
const (
	ReasonInvalidAmount           = "invalid_amount"
	ReasonInvalidPrecision        = "invalid_precision"
	ReasonDepositMinimumNotMet    = "deposit_minimum_not_met"
	ReasonAmountTooSmall          = "amount_too_small"
	ReasonInsufficientBalance     = "insufficient_balance"
	ReasonInvalidRecipient        = "invalid_recipient"
	ReasonRecipientNotFound       = "recipient_not_found"
	ReasonAmbiguousRecipient      = "ambiguous_recipient"
	ReasonSelfTransfer            = "self_transfer"
	ReasonSelfPayment             = "self_payment"
	ReasonInvalidInvoice          = "invalid_invoice"
	ReasonInvoiceAmountMismatch   = "invoice_amount_mismatch"
	ReasonInvoiceCurrencyMismatch = "invoice_currency_mismatch"
	ReasonInvalidCurrency         = "invalid_currency"
	ReasonInvalidDirection        = "invalid_direction"
	ReasonInvalidIdempotencyKey   = "invalid_idempotency_key"
	ReasonUserNotFound            = "user_not_found"
)

// Fatal errors. They mean the stored state is inconsistent or misconfigured,
// never that the caller did something wrong.
var (
	ErrInternalState        = errors.New("ledger internal state error")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrFeeRecipientNotFound = errors.New("configured fee recipient not found")
)

// RejectedError is the single client-correctable failure. Nothing was mutated
// when it is returned.
type RejectedError struct {
	Reason  string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Message)
}

func reject(reason, format string, args ...interface{}) *RejectedError {
	return &RejectedError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejected unwraps err into a RejectedError when it is one.
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}

// IsRejected reports whether err carries the given reason.
func IsRejected(err error, reason string) bool {
	rejected, ok := AsRejected(err)
	return ok && rejected.Reason == reason
}
