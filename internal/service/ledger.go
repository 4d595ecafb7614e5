package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"exchange/internal/infrastructure/lock"
	"exchange/internal/metrics"
	"exchange/internal/model"
	"exchange/internal/repository"
	"exchange/pkg/idgen"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger bundles what every balance-changing operation needs: the database,
// wallet locking, the append-only ledger and the outbox.
type Ledger struct {
	db          *gorm.DB
	wallets     *WalletService
	txRepo      *repository.TransactionRepository
	outboxRepo  *repository.OutboxRepository
	keyLocker   *lock.KeyLocker
	eventsTopic string
	log         *zap.Logger
}

type LedgerOptions struct {
	MaxPageSize int
	EventsTopic string
	// KeyLocker is optional.
	KeyLocker *lock.KeyLocker
}

func NewLedger(db *gorm.DB, log *zap.Logger, opts LedgerOptions) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	topic := opts.EventsTopic
	if topic == "" {
		topic = "ledger.events"
	}
	return &Ledger{
		db:          db,
		wallets:     NewWalletService(db),
		txRepo:      repository.NewTransactionRepository(db, opts.MaxPageSize),
		outboxRepo:  repository.NewOutboxRepository(db),
		keyLocker:   opts.KeyLocker,
		eventsTopic: topic,
		log:         log,
	}
}

func (l *Ledger) Wallets() *WalletService { return l.wallets }

func (l *Ledger) Transactions() *repository.TransactionRepository { return l.txRepo }

// committed is what an idempotent operation returns: the ledger row that
// carries the key and the owner's balances right after it.
type committed struct {
	row      *model.Transaction
	snapshot Snapshot
	replayed bool
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) > model.MaxIdempotencyKeyLength {
		return "", reject(ReasonInvalidIdempotencyKey, "idempotency key longer than %d characters", model.MaxIdempotencyKeyLength)
	}
	return key, nil
}

// runIdempotent executes fn in one database transaction on behalf of userID.
//
// With a non-blank key, an already committed row for (userID, key) is
// returned without calling fn. If fn's own insert loses a race on the key,
// the transaction is rolled back and the winner's row is returned instead.
func (l *Ledger) runIdempotent(ctx context.Context, userID int64, key string, fn func(tx *gorm.DB) (*model.Transaction, error)) (*committed, error) {
	release, err := l.keyLocker.Acquire(ctx, userID, key, uuid.NewString())
	if err != nil {
		l.log.Warn("idempotency key lock unavailable, relying on unique index",
			zap.Int64("user_id", userID), zap.String("idempotency_key", key), zap.Error(err))
	}
	defer release()

	var result committed
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != "" {
			existing, err := l.txRepo.FindByUserAndIdempotencyKey(ctx, tx, userID, key)
			if err != nil {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
			if existing != nil {
				snap, err := l.wallets.snapshot(ctx, tx, userID)
				if err != nil {
					return err
				}
				result = committed{row: existing, snapshot: snap, replayed: true}
				return nil
			}
		}

		row, err := fn(tx)
		if err != nil {
			return err
		}
		snap, err := l.wallets.snapshot(ctx, tx, userID)
		if err != nil {
			return err
		}
		result = committed{row: row, snapshot: snap}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) && key != "" {
		return l.replay(ctx, userID, key)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lookup returns the committed outcome of key, or nil when no row carries
// it yet. It runs outside any transaction.
func (l *Ledger) lookup(ctx context.Context, userID int64, key string) (*committed, error) {
	existing, err := l.txRepo.FindByUserAndIdempotencyKey(ctx, nil, userID, key)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	snap, err := l.wallets.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &committed{row: existing, snapshot: snap, replayed: true}, nil
}

// replay loads the committed outcome of a key after our own attempt was
// rolled back.
func (l *Ledger) replay(ctx context.Context, userID int64, key string) (*committed, error) {
	c, err := l.lookup(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("key %q of user %d conflicted but no row found: %w", key, userID, ErrInternalState)
	}
	return c, nil
}

// append inserts ledger rows in order and enqueues one outbox event per row.
func (l *Ledger) append(ctx context.Context, tx *gorm.DB, operation string, rows ...*model.Transaction) error {
	for _, row := range rows {
		if err := l.txRepo.Append(ctx, tx, row); err != nil {
			if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
				return err
			}
			return fmt.Errorf("append %s row for user %d: %w", row.Type, row.UserID, err)
		}
	}

	snapshots := make(map[int64]Snapshot, len(rows))
	for _, row := range rows {
		snap, ok := snapshots[row.UserID]
		if !ok {
			var err error
			if snap, err = l.wallets.snapshot(ctx, tx, row.UserID); err != nil {
				return err
			}
			snapshots[row.UserID] = snap
		}

		event := model.LedgerEvent{
			EventID:      idgen.GenerateEventID(),
			Operation:    operation,
			UserID:       row.UserID,
			LedgerID:     row.ID,
			Reference:    row.Reference(),
			Type:         row.Type,
			USDCents:     row.AmountIn(model.CurrencyUSD),
			TRVCents:     row.AmountIn(model.CurrencyTRV),
			FeeCents:     row.Fee(),
			Counterparty: row.CounterpartyUserID,
			BalanceUSD:   snap.USDCents,
			BalanceTRV:   snap.TRVCents,
			OccurredAt:   row.CreatedAt,
		}
		key := strconv.FormatInt(row.UserID, 10)
		if err := l.outboxRepo.Enqueue(ctx, tx, l.eventsTopic, key, event); err != nil {
			return fmt.Errorf("enqueue ledger event: %w", err)
		}
	}
	return nil
}

// observe records the outcome of a public operation.
func observe(operation string, started time.Time, res *committed, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		if _, ok := AsRejected(err); ok {
			outcome = metrics.OutcomeRejected
		}
	case res != nil && res.replayed:
		outcome = metrics.OutcomeReplayed
	}
	metrics.ObserveOperation(operation, outcome, started)
}

func keyPtr(key string) *string {
	if key == "" {
		return nil
	}
	return model.StringPtr(key)
}

// amountRow fills the amount column that matches currency.
func amountRow(row *model.Transaction, currency model.Currency, cents int64) *model.Transaction {
	switch currency {
	case model.CurrencyUSD:
		row.USDAmountCents = model.Int64Ptr(cents)
	case model.CurrencyTRV:
		row.TRVAmountCents = model.Int64Ptr(cents)
	}
	return row
}
