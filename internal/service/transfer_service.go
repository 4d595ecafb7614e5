package service

import (
	"context"
	"time"

	"exchange/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TransferRequest struct {
	FromUserID int64
	// Recipient is an e-mail address or a nickname.
	Recipient   string
	AmountCents int64
	// Currency defaults to TRV.
	Currency       model.Currency
	IdempotencyKey string
}

// TransferService moves funds between two users without a fee.
type TransferService struct {
	ledger *Ledger
	users  UserDirectory
	log    *zap.Logger
}

func NewTransferService(ledger *Ledger, users UserDirectory, log *zap.Logger) *TransferService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferService{ledger: ledger, users: users, log: log}
}

func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (result *OperationResult, err error) {
	started := time.Now()
	var c *committed
	defer func() { observe("transfer", started, c, err) }()

	currency := req.Currency
	if currency == "" {
		currency = model.CurrencyTRV
	}
	if _, ok := model.ParseCurrency(string(currency)); !ok {
		return nil, reject(ReasonInvalidCurrency, "unsupported currency %q", currency)
	}
	if req.AmountCents <= 0 {
		return nil, reject(ReasonInvalidAmount, "transfer amount must be greater than zero")
	}
	key, err := normalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	recipient, err := resolveRecipient(ctx, s.users, req.Recipient)
	if err != nil {
		return nil, err
	}
	if recipient.ID == req.FromUserID {
		return nil, reject(ReasonSelfTransfer, "cannot transfer to yourself")
	}

	c, err = s.moveFunds(ctx, "transfer", req.FromUserID, recipient.ID, currency, req.AmountCents, key)
	if err != nil {
		return nil, err
	}
	return operationResult(c), nil
}

// moveFunds debits fromID and credits toID by exactly amount in one currency.
// It writes TRANSFER_OUT for the source, carrying the idempotency key, and
// TRANSFER_IN for the destination; each names the other as counterparty.
// Both wallets are locked in ascending user id order.
func (s *TransferService) moveFunds(ctx context.Context, operation string, fromID, toID int64, currency model.Currency, amount int64, key string) (*committed, error) {
	if err := s.ledger.wallets.ensureAll(ctx, fromID, toID); err != nil {
		return nil, err
	}

	c, err := s.ledger.runIdempotent(ctx, fromID, key, func(tx *gorm.DB) (*model.Transaction, error) {
		locked, err := s.ledger.wallets.LockOrdered(ctx, tx, map[int64][]model.Currency{
			fromID: {currency},
			toID:   {currency},
		})
		if err != nil {
			return nil, err
		}
		src := locked[fromID][currency]
		dst := locked[toID][currency]

		if src.BalanceCents < amount {
			return nil, reject(ReasonInsufficientBalance, "%s balance %s is below %s",
				currency, FormatCents(src.BalanceCents), FormatCents(amount))
		}
		if src.BalanceCents, err = subCents(src.BalanceCents, amount); err != nil {
			return nil, err
		}
		if dst.BalanceCents, err = addCents(dst.BalanceCents, amount); err != nil {
			return nil, err
		}
		if err := s.ledger.wallets.save(ctx, tx, src, dst); err != nil {
			return nil, err
		}

		out := amountRow(&model.Transaction{
			UserID:             fromID,
			Type:               model.TransactionTypeTransferOut,
			CounterpartyUserID: model.Int64Ptr(toID),
			IdempotencyKey:     keyPtr(key),
		}, currency, amount)
		in := amountRow(&model.Transaction{
			UserID:             toID,
			Type:               model.TransactionTypeTransferIn,
			CounterpartyUserID: model.Int64Ptr(fromID),
		}, currency, amount)

		if err := s.ledger.append(ctx, tx, operation, out, in); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if !c.replayed {
		s.log.Info("funds moved",
			zap.String("operation", operation),
			zap.Int64("from_user_id", fromID),
			zap.Int64("to_user_id", toID),
			zap.String("currency", string(currency)),
			zap.Int64("amount_cents", amount),
			zap.Int64("ledger_id", c.row.ID))
	}
	return c, nil
}
