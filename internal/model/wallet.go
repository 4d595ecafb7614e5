package model

import (
	"time"
)

// Currency identifies one balance bucket of a user.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyTRV Currency = "TRV"
)

// SupportedCurrencies lists every currency a user holds a wallet for, in
// canonical (lock) order.
var SupportedCurrencies = []Currency{CurrencyTRV, CurrencyUSD}

// ParseCurrency accepts the upper-case currency code.
func ParseCurrency(s string) (Currency, bool) {
	switch Currency(s) {
	case CurrencyUSD:
		return CurrencyUSD, true
	case CurrencyTRV:
		return CurrencyTRV, true
	}
	return "", false
}

// Wallet holds the balance of one (user, currency) pair in minor units.
//
// BalanceCents is only written while the row is held FOR UPDATE by the
// writing transaction; Version is bumped on every write.
type Wallet struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"not null;uniqueIndex:uk_wallet_user_currency,priority:1" json:"user_id"`
	Currency     Currency  `gorm:"type:varchar(16);not null;uniqueIndex:uk_wallet_user_currency,priority:2" json:"currency"`
	BalanceCents int64     `gorm:"not null;default:0" json:"balance_cents"`
	Version      int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
