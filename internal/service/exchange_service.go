package service

import (
	"context"
	"time"

	"exchange/internal/metrics"
	"exchange/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConvertDirection names which way a conversion moves value.
type ConvertDirection string

const (
	DirectionUSDToTRV ConvertDirection = "USD_TO_TRV"
	DirectionTRVToUSD ConvertDirection = "TRV_TO_USD"
)

func ParseDirection(s string) (ConvertDirection, error) {
	switch d := ConvertDirection(s); d {
	case DirectionUSDToTRV, DirectionTRVToUSD:
		return d, nil
	}
	return "", reject(ReasonInvalidDirection, "unknown conversion direction %q", s)
}

const DefaultMinDepositCents = 1000

type DepositRequest struct {
	UserID         int64
	AmountCents    int64
	IdempotencyKey string
}

type ConvertRequest struct {
	UserID         int64
	AmountCents    int64
	Direction      ConvertDirection
	IdempotencyKey string
}

type OperationResult struct {
	Snapshot  Snapshot `json:"snapshot"`
	LedgerID  int64    `json:"ledger_id"`
	Reference string   `json:"reference"`
	Replayed  bool     `json:"replayed"`
}

type ConvertResult struct {
	Snapshot  Snapshot `json:"snapshot"`
	LedgerID  int64    `json:"ledger_id"`
	Reference string   `json:"reference"`
	FeeCents  int64    `json:"fee_cents"`
	Replayed  bool     `json:"replayed"`
}

func operationResult(c *committed) *OperationResult {
	return &OperationResult{
		Snapshot:  c.snapshot,
		LedgerID:  c.row.ID,
		Reference: c.row.Reference(),
		Replayed:  c.replayed,
	}
}

// ExchangeService runs deposits and USD/TRV conversions.
type ExchangeService struct {
	ledger          *Ledger
	fee             FeePolicy
	feeRecipient    FeeRecipient
	minDepositCents int64
	log             *zap.Logger
}

func NewExchangeService(ledger *Ledger, fee FeePolicy, feeRecipient FeeRecipient, minDepositCents int64, log *zap.Logger) *ExchangeService {
	if fee == nil {
		fee = PercentFee{Percent: 1}
	}
	if minDepositCents <= 0 {
		minDepositCents = DefaultMinDepositCents
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExchangeService{
		ledger:          ledger,
		fee:             fee,
		feeRecipient:    feeRecipient,
		minDepositCents: minDepositCents,
		log:             log,
	}
}

func (s *ExchangeService) Deposit(ctx context.Context, req DepositRequest) (result *OperationResult, err error) {
	started := time.Now()
	var c *committed
	defer func() { observe("deposit", started, c, err) }()

	if req.AmountCents <= 0 {
		return nil, reject(ReasonInvalidAmount, "deposit amount must be greater than zero")
	}
	if req.AmountCents < s.minDepositCents {
		return nil, reject(ReasonDepositMinimumNotMet, "minimum deposit is %s USD", FormatCents(s.minDepositCents))
	}
	key, err := normalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.wallets.EnsureWallets(ctx, req.UserID); err != nil {
		return nil, err
	}

	c, err = s.ledger.runIdempotent(ctx, req.UserID, key, func(tx *gorm.DB) (*model.Transaction, error) {
		locked, err := s.ledger.wallets.LockWallets(ctx, tx, req.UserID, []model.Currency{model.CurrencyUSD})
		if err != nil {
			return nil, err
		}
		usd := locked[model.CurrencyUSD]
		if usd.BalanceCents, err = addCents(usd.BalanceCents, req.AmountCents); err != nil {
			return nil, err
		}
		if err := s.ledger.wallets.save(ctx, tx, usd); err != nil {
			return nil, err
		}

		row := &model.Transaction{
			UserID:         req.UserID,
			Type:           model.TransactionTypeDeposit,
			USDAmountCents: model.Int64Ptr(req.AmountCents),
			IdempotencyKey: keyPtr(key),
		}
		if err := s.ledger.append(ctx, tx, "deposit", row); err != nil {
			return nil, err
		}
		return row, nil
	})
	if err != nil {
		return nil, err
	}

	if !c.replayed {
		s.log.Info("deposit committed",
			zap.Int64("user_id", req.UserID),
			zap.Int64("amount_cents", req.AmountCents),
			zap.Int64("ledger_id", c.row.ID))
	}
	return operationResult(c), nil
}

// Convert exchanges between USD and TRV one to one in minor units, charging
// the configured fee in USD.
//
// USD->TRV debits amount+fee USD and credits amount TRV. TRV->USD debits
// amount TRV and credits amount-fee USD. The fee is credited to the fee
// recipient, whose USD wallet is locked together with the user's wallets in
// ascending user id order. A recipient converting for itself pays the fee
// without getting it back.
func (s *ExchangeService) Convert(ctx context.Context, req ConvertRequest) (result *ConvertResult, err error) {
	started := time.Now()
	var c *committed
	defer func() { observe("convert", started, c, err) }()

	if req.AmountCents <= 0 {
		return nil, reject(ReasonInvalidAmount, "conversion amount must be greater than zero")
	}
	if _, err := ParseDirection(string(req.Direction)); err != nil {
		return nil, err
	}
	key, err := normalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	// A retry is answered from the ledger before the fee is priced, so a
	// policy change in between cannot reject it.
	if key != "" {
		if c, err = s.ledger.lookup(ctx, req.UserID, key); err != nil {
			return nil, err
		}
		if c != nil {
			return convertResult(c), nil
		}
	}

	fee, err := s.fee.Fee(req.AmountCents)
	if err != nil {
		return nil, err
	}
	if fee <= 0 {
		return nil, reject(ReasonAmountTooSmall, "amount %s is too small to convert", FormatCents(req.AmountCents))
	}
	if req.Direction == DirectionTRVToUSD && req.AmountCents <= fee {
		return nil, reject(ReasonAmountTooSmall, "amount %s does not exceed the fee %s", FormatCents(req.AmountCents), FormatCents(fee))
	}

	users := []int64{req.UserID}
	if s.feeRecipient.Configured() {
		users = append(users, s.feeRecipient.UserID)
	}
	if err := s.ledger.wallets.ensureAll(ctx, users...); err != nil {
		return nil, err
	}

	c, err = s.ledger.runIdempotent(ctx, req.UserID, key, func(tx *gorm.DB) (*model.Transaction, error) {
		return s.convertTx(ctx, tx, req, key, fee)
	})
	if err != nil {
		return nil, err
	}

	if !c.replayed {
		metrics.AddFeeCollected(c.row.Fee())
		s.log.Info("conversion committed",
			zap.Int64("user_id", req.UserID),
			zap.String("direction", string(req.Direction)),
			zap.Int64("amount_cents", req.AmountCents),
			zap.Int64("fee_cents", c.row.Fee()),
			zap.Int64("ledger_id", c.row.ID))
	}

	return convertResult(c), nil
}

func convertResult(c *committed) *ConvertResult {
	return &ConvertResult{
		Snapshot:  c.snapshot,
		LedgerID:  c.row.ID,
		Reference: c.row.Reference(),
		FeeCents:  c.row.Fee(),
		Replayed:  c.replayed,
	}
}

func (s *ExchangeService) convertTx(ctx context.Context, tx *gorm.DB, req ConvertRequest, key string, fee int64) (*model.Transaction, error) {
	wanted := map[int64][]model.Currency{
		req.UserID: {model.CurrencyTRV, model.CurrencyUSD},
	}
	recipient := s.feeRecipient.UserID
	if s.feeRecipient.Configured() && recipient != req.UserID {
		wanted[recipient] = []model.Currency{model.CurrencyUSD}
	}

	locked, err := s.ledger.wallets.LockOrdered(ctx, tx, wanted)
	if err != nil {
		return nil, err
	}
	usd := locked[req.UserID][model.CurrencyUSD]
	trv := locked[req.UserID][model.CurrencyTRV]

	row := &model.Transaction{
		UserID:         req.UserID,
		USDAmountCents: model.Int64Ptr(req.AmountCents),
		TRVAmountCents: model.Int64Ptr(req.AmountCents),
		FeeUSDCents:    model.Int64Ptr(fee),
		IdempotencyKey: keyPtr(key),
	}

	switch req.Direction {
	case DirectionUSDToTRV:
		row.Type = model.TransactionTypeConvertUSDToTRV
		debit, err := addCents(req.AmountCents, fee)
		if err != nil {
			return nil, err
		}
		if usd.BalanceCents < debit {
			return nil, reject(ReasonInsufficientBalance, "USD balance %s is below %s (amount plus fee)",
				FormatCents(usd.BalanceCents), FormatCents(debit))
		}
		if usd.BalanceCents, err = subCents(usd.BalanceCents, debit); err != nil {
			return nil, err
		}
		if trv.BalanceCents, err = addCents(trv.BalanceCents, req.AmountCents); err != nil {
			return nil, err
		}

	case DirectionTRVToUSD:
		row.Type = model.TransactionTypeConvertTRVToUSD
		if trv.BalanceCents < req.AmountCents {
			return nil, reject(ReasonInsufficientBalance, "TRV balance %s is below %s",
				FormatCents(trv.BalanceCents), FormatCents(req.AmountCents))
		}
		credit, err := subCents(req.AmountCents, fee)
		if err != nil {
			return nil, err
		}
		if trv.BalanceCents, err = subCents(trv.BalanceCents, req.AmountCents); err != nil {
			return nil, err
		}
		if usd.BalanceCents, err = addCents(usd.BalanceCents, credit); err != nil {
			return nil, err
		}
	}

	rows := []*model.Transaction{row}
	touched := []*model.Wallet{usd, trv}

	// A recipient converting for itself is charged like anyone else; the fee
	// is not credited back.
	if s.feeRecipient.Configured() && recipient != req.UserID {
		feeWallet := locked[recipient][model.CurrencyUSD]
		touched = append(touched, feeWallet)
		if feeWallet.BalanceCents, err = addCents(feeWallet.BalanceCents, fee); err != nil {
			return nil, err
		}
		rows = append(rows, &model.Transaction{
			UserID:             recipient,
			Type:               model.TransactionTypeFeeIncome,
			USDAmountCents:     model.Int64Ptr(fee),
			CounterpartyUserID: model.Int64Ptr(req.UserID),
		})
	}

	if err := s.ledger.wallets.save(ctx, tx, touched...); err != nil {
		return nil, err
	}
	if err := s.ledger.append(ctx, tx, "convert", rows...); err != nil {
		return nil, err
	}
	return row, nil
}
