package service

import (
	"context"
	"fmt"
	"time"

	"exchange/internal/model"
	"exchange/internal/repository"
)

// Entry is the typed content of one ledger row. Exactly one concrete type
// exists per transaction type family.
type Entry interface {
	entry()
}

type DepositEntry struct {
	USDCents int64
}

type ConversionEntry struct {
	Direction   ConvertDirection
	AmountCents int64
	FeeCents    int64
}

type TransferEntry struct {
	Incoming           bool
	Currency           model.Currency
	AmountCents        int64
	CounterpartyUserID int64
}

type FeeIncomeEntry struct {
	USDCents    int64
	PayerUserID int64
}

type AdjustmentEntry struct {
	USDDeltaCents int64
	TRVDeltaCents int64
}

func (DepositEntry) entry()    {}
func (ConversionEntry) entry() {}
func (TransferEntry) entry()   {}
func (FeeIncomeEntry) entry()  {}
func (AdjustmentEntry) entry() {}

// ValueLine is one signed balance movement as shown on a statement.
type ValueLine struct {
	Currency  model.Currency `json:"currency"`
	Cents     int64          `json:"cents"`
	Formatted string         `json:"formatted"`
}

type StatementItem struct {
	ID        int64                 `json:"id"`
	Reference string                `json:"reference"`
	Type      model.TransactionType `json:"type"`
	CreatedAt time.Time             `json:"created_at"`
	Entry     Entry                 `json:"-"`
	Values    []ValueLine           `json:"values"`
}

type StatementPage struct {
	Items []StatementItem `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// DecodeEntry turns a uniform ledger row into its typed variant.
func DecodeEntry(row *model.Transaction) (Entry, error) {
	counterparty := int64(0)
	if row.CounterpartyUserID != nil {
		counterparty = *row.CounterpartyUserID
	}

	switch row.Type {
	case model.TransactionTypeDeposit:
		return DepositEntry{USDCents: row.AmountIn(model.CurrencyUSD)}, nil
	case model.TransactionTypeConvertUSDToTRV:
		return ConversionEntry{Direction: DirectionUSDToTRV, AmountCents: row.AmountIn(model.CurrencyTRV), FeeCents: row.Fee()}, nil
	case model.TransactionTypeConvertTRVToUSD:
		return ConversionEntry{Direction: DirectionTRVToUSD, AmountCents: row.AmountIn(model.CurrencyTRV), FeeCents: row.Fee()}, nil
	case model.TransactionTypeTransferOut, model.TransactionTypeTransferIn:
		currency, amount := model.CurrencyTRV, row.AmountIn(model.CurrencyTRV)
		if row.USDAmountCents != nil {
			currency, amount = model.CurrencyUSD, *row.USDAmountCents
		}
		return TransferEntry{
			Incoming:           row.Type == model.TransactionTypeTransferIn,
			Currency:           currency,
			AmountCents:        amount,
			CounterpartyUserID: counterparty,
		}, nil
	case model.TransactionTypeFeeIncome:
		return FeeIncomeEntry{USDCents: row.AmountIn(model.CurrencyUSD), PayerUserID: counterparty}, nil
	case model.TransactionTypeAdminAdjust:
		return AdjustmentEntry{USDDeltaCents: row.AmountIn(model.CurrencyUSD), TRVDeltaCents: row.AmountIn(model.CurrencyTRV)}, nil
	}
	return nil, fmt.Errorf("ledger row %d has unknown type %q: %w", row.ID, row.Type, ErrInternalState)
}

// RenderValues lists the signed movements an entry caused on its owner's
// wallets.
func RenderValues(e Entry) []ValueLine {
	switch e := e.(type) {
	case DepositEntry:
		return lines(valueLine(model.CurrencyUSD, e.USDCents))
	case ConversionEntry:
		if e.Direction == DirectionUSDToTRV {
			return lines(
				valueLine(model.CurrencyUSD, -(e.AmountCents + e.FeeCents)),
				valueLine(model.CurrencyTRV, e.AmountCents),
			)
		}
		return lines(
			valueLine(model.CurrencyTRV, -e.AmountCents),
			valueLine(model.CurrencyUSD, e.AmountCents-e.FeeCents),
		)
	case TransferEntry:
		if e.Incoming {
			return lines(valueLine(e.Currency, e.AmountCents))
		}
		return lines(valueLine(e.Currency, -e.AmountCents))
	case FeeIncomeEntry:
		return lines(valueLine(model.CurrencyUSD, e.USDCents))
	case AdjustmentEntry:
		var out []ValueLine
		if e.USDDeltaCents != 0 {
			out = append(out, valueLine(model.CurrencyUSD, e.USDDeltaCents))
		}
		if e.TRVDeltaCents != 0 {
			out = append(out, valueLine(model.CurrencyTRV, e.TRVDeltaCents))
		}
		return lines(out...)
	}
	panic(fmt.Sprintf("statement: unhandled entry %T", e))
}

func valueLine(c model.Currency, cents int64) ValueLine {
	formatted := FormatCents(cents)
	if cents > 0 {
		formatted = "+" + formatted
	}
	return ValueLine{Currency: c, Cents: cents, Formatted: formatted}
}

func lines(v ...ValueLine) []ValueLine {
	if v == nil {
		return []ValueLine{}
	}
	return v
}

type StatementService struct {
	txRepo *repository.TransactionRepository
}

func NewStatementService(ledger *Ledger) *StatementService {
	return &StatementService{txRepo: ledger.txRepo}
}

// Statement lists a user's ledger rows newest first. page is zero-based and
// size is clamped to the configured maximum.
func (s *StatementService) Statement(ctx context.Context, userID int64, page, size int) (*StatementPage, error) {
	rows, total, err := s.txRepo.Page(ctx, userID, page, size)
	if err != nil {
		return nil, err
	}
	return s.render(rows, total, page, size)
}

func (s *StatementService) StatementByType(ctx context.Context, userID int64, typ model.TransactionType, page, size int) (*StatementPage, error) {
	rows, total, err := s.txRepo.PageByType(ctx, userID, typ, page, size)
	if err != nil {
		return nil, err
	}
	return s.render(rows, total, page, size)
}

func (s *StatementService) render(rows []*model.Transaction, total int64, page, size int) (*StatementPage, error) {
	page, size = s.txRepo.ClampPage(page, size)
	items := make([]StatementItem, 0, len(rows))
	for _, row := range rows {
		entry, err := DecodeEntry(row)
		if err != nil {
			return nil, err
		}
		items = append(items, StatementItem{
			ID:        row.ID,
			Reference: row.Reference(),
			Type:      row.Type,
			CreatedAt: row.CreatedAt,
			Entry:     entry,
			Values:    RenderValues(entry),
		})
	}
	return &StatementPage{Items: items, Total: total, Page: page, Size: size}, nil
}
