package model

import (
	"fmt"
	"time"
)

// TransactionType is the kind of economic event a ledger row records.
type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "DEPOSIT"
	TransactionTypeConvertUSDToTRV TransactionType = "CONVERT_USD_TO_TRV"
	TransactionTypeConvertTRVToUSD TransactionType = "CONVERT_TRV_TO_USD"
	TransactionTypeTransferOut     TransactionType = "TRANSFER_OUT"
	TransactionTypeTransferIn      TransactionType = "TRANSFER_IN"
	TransactionTypeFeeIncome       TransactionType = "FEE_INCOME"
	TransactionTypeAdminAdjust     TransactionType = "ADMIN_ADJUST"
)

// ParseTransactionType accepts any of the declared types.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch t := TransactionType(s); t {
	case TransactionTypeDeposit, TransactionTypeConvertUSDToTRV, TransactionTypeConvertTRVToUSD,
		TransactionTypeTransferOut, TransactionTypeTransferIn, TransactionTypeFeeIncome,
		TransactionTypeAdminAdjust:
		return t, true
	}
	return "", false
}

// MaxIdempotencyKeyLength matches the idempotency_key column width.
const MaxIdempotencyKeyLength = 128

// Transaction is one immutable ledger row.
//
// Rows are append-only: they are inserted once when the operation commits
// and never updated or deleted. (user_id, idempotency_key) is unique; rows
// without a key never collide.
type Transaction struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64           `gorm:"not null;index;uniqueIndex:uk_tx_user_idempotency,priority:1" json:"user_id"`
	Type               TransactionType `gorm:"type:varchar(32);not null;index" json:"type"`
	USDAmountCents     *int64          `gorm:"column:usd_amount_cents" json:"usd_amount_cents,omitempty"`
	TRVAmountCents     *int64          `gorm:"column:trv_amount_cents" json:"trv_amount_cents,omitempty"`
	FeeUSDCents        *int64          `gorm:"column:fee_usd_cents" json:"fee_usd_cents,omitempty"`
	CounterpartyUserID *int64          `gorm:"index" json:"counterparty_user_id,omitempty"`
	IdempotencyKey     *string         `gorm:"type:varchar(128);uniqueIndex:uk_tx_user_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Reference is the public ledger reference derived from the row id.
func (t *Transaction) Reference() string {
	return FormatReference(t.ID)
}

func FormatReference(id int64) string {
	if id <= 0 {
		return "TEC-UNKNOWN"
	}
	return fmt.Sprintf("TEC-%010d", id)
}

// AmountIn returns the amount recorded for the given currency, zero when the
// column is NULL.
func (t *Transaction) AmountIn(c Currency) int64 {
	var v *int64
	switch c {
	case CurrencyUSD:
		v = t.USDAmountCents
	case CurrencyTRV:
		v = t.TRVAmountCents
	}
	if v == nil {
		return 0
	}
	return *v
}

// Fee returns the recorded fee, zero when the column is NULL.
func (t *Transaction) Fee() int64 {
	if t.FeeUSDCents == nil {
		return 0
	}
	return *t.FeeUSDCents
}

func Int64Ptr(v int64) *int64 { return &v }

func StringPtr(v string) *string { return &v }
