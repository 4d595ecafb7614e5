package repository

import (
	"context"
	"errors"

	"exchange/internal/model"

	"gorm.io/gorm"
)

// ErrDuplicateIdempotencyKey is returned by Append when (user_id,
// idempotency_key) already exists.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

const DefaultMaxPageSize = 100

// TransactionRepository is the append-only ledger. It has no update or delete.
type TransactionRepository struct {
	db          *gorm.DB
	maxPageSize int
}

func NewTransactionRepository(db *gorm.DB, maxPageSize int) *TransactionRepository {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &TransactionRepository{db: db, maxPageSize: maxPageSize}
}

func (r *TransactionRepository) Append(ctx context.Context, tx *gorm.DB, row *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

// FindByUserAndIdempotencyKey returns nil, nil when no row carries the key.
func (r *TransactionRepository) FindByUserAndIdempotencyKey(ctx context.Context, tx *gorm.DB, userID int64, key string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var row model.Transaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var row model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Page lists the user's rows newest first. page is zero-based.
func (r *TransactionRepository) Page(ctx context.Context, userID int64, page, size int) ([]*model.Transaction, int64, error) {
	return r.page(ctx, r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID), page, size)
}

func (r *TransactionRepository) PageByType(ctx context.Context, userID int64, typ model.TransactionType, page, size int) ([]*model.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("user_id = ? AND type = ?", userID, typ)
	return r.page(ctx, query, page, size)
}

func (r *TransactionRepository) page(ctx context.Context, query *gorm.DB, page, size int) ([]*model.Transaction, int64, error) {
	var rows []*model.Transaction
	var total int64

	page, size = r.ClampPage(page, size)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset(page * size).
		Limit(size).
		Find(&rows).Error

	return rows, total, err
}

// ClampPage normalises paging input: negative pages become 0 and size is held
// within [1, maxPageSize].
func (r *TransactionRepository) ClampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 1
	}
	if size > r.maxPageSize {
		size = r.maxPageSize
	}
	return page, size
}

func (r *TransactionRepository) SumUSDByUserAndType(ctx context.Context, userID int64, typ model.TransactionType) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(usd_amount_cents), 0)").
		Where("user_id = ? AND type = ?", userID, typ).
		Scan(&total).Error
	return total, err
}
