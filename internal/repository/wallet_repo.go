package repository

import (
	"context"
	"errors"

	"exchange/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrStaleWallet means a versioned update matched no row: the wallet was
	// written without holding its row lock.
	ErrStaleWallet = errors.New("wallet version mismatch")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// EnsureWallet inserts a zero-balance wallet for (userID, currency) unless one
// already exists, then returns the stored row. Concurrent callers never fail:
// losers of the insert race hit the unique index and do nothing.
func (r *WalletRepository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID int64, currency model.Currency) (*model.Wallet, error) {
	wallet := &model.Wallet{
		UserID:   userID,
		Currency: currency,
	}
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(wallet).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	return r.GetByUserAndCurrency(ctx, tx, userID, currency)
}

func (r *WalletRepository) GetByUserAndCurrency(ctx context.Context, tx *gorm.DB, userID int64, currency model.Currency) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) ListByUserID(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.Wallet, error) {
	var wallets []*model.Wallet
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency ASC").
		Find(&wallets).Error
	return wallets, err
}

// LockForUpdate selects the user's wallets in the given currencies with
// SELECT ... FOR UPDATE, in ascending currency order. Missing rows are simply
// absent from the result.
func (r *WalletRepository) LockForUpdate(ctx context.Context, tx *gorm.DB, userID int64, currencies []model.Currency) ([]*model.Wallet, error) {
	var wallets []*model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency IN ?", userID, currencies).
		Order("currency ASC").
		Find(&wallets).Error
	return wallets, err
}

// UpdateBalance writes the wallet's in-memory balance back, guarded by the
// version read under lock. On success wallet.Version is advanced.
func (r *WalletRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"balance_cents": wallet.BalanceCents,
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleWallet
	}

	wallet.Version++
	return nil
}
