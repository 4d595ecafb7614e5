package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is written in the same database transaction as the ledger
// rows it describes and relayed to Kafka afterwards.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent is the outbox payload published for every committed ledger
// operation.
type LedgerEvent struct {
	EventID      string          `json:"event_id"`
	Operation    string          `json:"operation"`
	UserID       int64           `json:"user_id"`
	LedgerID     int64           `json:"ledger_id"`
	Reference    string          `json:"reference"`
	Type         TransactionType `json:"type"`
	USDCents     int64           `json:"usd_cents"`
	TRVCents     int64           `json:"trv_cents"`
	FeeCents     int64           `json:"fee_cents,omitempty"`
	Counterparty *int64          `json:"counterparty_user_id,omitempty"`
	BalanceUSD   int64           `json:"balance_usd_cents"`
	BalanceTRV   int64           `json:"balance_trv_cents"`
	OccurredAt   time.Time       `json:"occurred_at"`
}
