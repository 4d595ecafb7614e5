package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exchange/internal/model"
	"exchange/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxFeeIncomeItems = 100

type FeeIncomeItem struct {
	LedgerID    int64     `json:"ledger_id"`
	Reference   string    `json:"reference"`
	FeeCents    int64     `json:"fee_cents"`
	PayerUserID int64     `json:"payer_user_id"`
	PayerEmail  string    `json:"payer_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type FeeIncome struct {
	TotalUSDCents int64           `json:"total_usd_cents"`
	Items         []FeeIncomeItem `json:"items"`
}

// AdminService backs administrative tooling: balance overrides and fee
// income reporting.
type AdminService struct {
	ledger *Ledger
	users  UserDirectory
	log    *zap.Logger
}

func NewAdminService(ledger *Ledger, users UserDirectory, log *zap.Logger) *AdminService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminService{ledger: ledger, users: users, log: log}
}

// SetBalances overwrites both balances of a user. The change is still posted
// as an ADMIN_ADJUST row carrying the signed deltas.
func (s *AdminService) SetBalances(ctx context.Context, userID, usdCents, trvCents int64) (snap Snapshot, err error) {
	started := time.Now()
	var c *committed
	defer func() { observe("admin_set_balances", started, c, err) }()

	if usdCents < 0 || trvCents < 0 {
		return Snapshot{}, reject(ReasonInvalidAmount, "balances must not be negative")
	}
	if _, err := requireUser(ctx, s.users, userID, ReasonUserNotFound); err != nil {
		return Snapshot{}, err
	}
	if err := s.ledger.wallets.EnsureWallets(ctx, userID); err != nil {
		return Snapshot{}, err
	}

	c, err = s.ledger.runIdempotent(ctx, userID, "", func(tx *gorm.DB) (*model.Transaction, error) {
		locked, err := s.ledger.wallets.LockWallets(ctx, tx, userID, model.SupportedCurrencies)
		if err != nil {
			return nil, err
		}
		usd := locked[model.CurrencyUSD]
		trv := locked[model.CurrencyTRV]

		usdDelta, err := subCents(usdCents, usd.BalanceCents)
		if err != nil {
			return nil, err
		}
		trvDelta, err := subCents(trvCents, trv.BalanceCents)
		if err != nil {
			return nil, err
		}
		usd.BalanceCents = usdCents
		trv.BalanceCents = trvCents
		if err := s.ledger.wallets.save(ctx, tx, usd, trv); err != nil {
			return nil, err
		}

		row := &model.Transaction{
			UserID:         userID,
			Type:           model.TransactionTypeAdminAdjust,
			USDAmountCents: model.Int64Ptr(usdDelta),
			TRVAmountCents: model.Int64Ptr(trvDelta),
		}
		if err := s.ledger.append(ctx, tx, "admin_set_balances", row); err != nil {
			return nil, err
		}
		return row, nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.log.Info("balances overridden",
		zap.Int64("user_id", userID),
		zap.Int64("usd_cents", usdCents),
		zap.Int64("trv_cents", trvCents),
		zap.Int64("ledger_id", c.row.ID))
	return c.snapshot, nil
}

// FeeIncome reports the total fees credited to userID and the latest size
// FEE_INCOME rows with the payer's e-mail attached.
func (s *AdminService) FeeIncome(ctx context.Context, userID int64, size int) (*FeeIncome, error) {
	if size < 1 {
		size = 1
	}
	if size > maxFeeIncomeItems {
		size = maxFeeIncomeItems
	}

	total, err := s.ledger.txRepo.SumUSDByUserAndType(ctx, userID, model.TransactionTypeFeeIncome)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.ledger.txRepo.PageByType(ctx, userID, model.TransactionTypeFeeIncome, 0, size)
	if err != nil {
		return nil, err
	}

	emails := make(map[int64]string)
	items := make([]FeeIncomeItem, 0, len(rows))
	for _, row := range rows {
		item := FeeIncomeItem{
			LedgerID:  row.ID,
			Reference: row.Reference(),
			FeeCents:  row.AmountIn(model.CurrencyUSD),
			CreatedAt: row.CreatedAt,
		}
		if row.CounterpartyUserID != nil {
			payer := *row.CounterpartyUserID
			item.PayerUserID = payer
			email, ok := emails[payer]
			if !ok {
				u, err := s.users.FindByID(ctx, payer)
				switch {
				case err == nil:
					email = u.Email
				case !errors.Is(err, repository.ErrUserNotFound):
					return nil, fmt.Errorf("lookup payer %d: %w", payer, err)
				}
				emails[payer] = email
			}
			item.PayerEmail = email
		}
		items = append(items, item)
	}

	return &FeeIncome{TotalUSDCents: total, Items: items}, nil
}
