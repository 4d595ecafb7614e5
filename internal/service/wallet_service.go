package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"exchange/internal/model"
	"exchange/internal/repository"

	"gorm.io/gorm"
)

// Snapshot is a point-in-time view of one user's balances.
type Snapshot struct {
	UserID   int64 `json:"user_id"`
	USDCents int64 `json:"usd_cents"`
	TRVCents int64 `json:"trv_cents"`
}

func (s Snapshot) Balance(c model.Currency) int64 {
	if c == model.CurrencyUSD {
		return s.USDCents
	}
	return s.TRVCents
}

// WalletSet holds one user's wallets locked by the current transaction.
type WalletSet map[model.Currency]*model.Wallet

type WalletService struct {
	db         *gorm.DB
	walletRepo *repository.WalletRepository
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{
		db:         db,
		walletRepo: repository.NewWalletRepository(db),
	}
}

// EnsureWallets creates every missing wallet of the user with a zero balance.
func (s *WalletService) EnsureWallets(ctx context.Context, userID int64) error {
	for _, currency := range model.SupportedCurrencies {
		if _, err := s.walletRepo.EnsureWallet(ctx, nil, userID, currency); err != nil {
			return fmt.Errorf("ensure %s wallet of user %d: %w", currency, userID, err)
		}
	}
	return nil
}

// ensureAll ensures wallets for several users in ascending id order. It runs
// outside the operation's transaction: on MySQL the upsert takes row locks,
// which must not be held in caller order.
func (s *WalletService) ensureAll(ctx context.Context, userIDs ...int64) error {
	for _, id := range sortedUnique(userIDs) {
		if err := s.EnsureWallets(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *WalletService) GetSnapshot(ctx context.Context, userID int64) (Snapshot, error) {
	if err := s.EnsureWallets(ctx, userID); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(ctx, s.db, userID)
}

// snapshot reads balances through db, which may be the caller's transaction.
func (s *WalletService) snapshot(ctx context.Context, db *gorm.DB, userID int64) (Snapshot, error) {
	wallets, err := s.walletRepo.ListByUserID(ctx, db, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list wallets of user %d: %w", userID, err)
	}
	snap := Snapshot{UserID: userID}
	for _, w := range wallets {
		switch w.Currency {
		case model.CurrencyUSD:
			snap.USDCents = w.BalanceCents
		case model.CurrencyTRV:
			snap.TRVCents = w.BalanceCents
		}
	}
	return snap, nil
}

// LockWallets takes row locks on the requested wallets of one user, in
// ascending currency order. Every requested row must already exist.
func (s *WalletService) LockWallets(ctx context.Context, tx *gorm.DB, userID int64, currencies []model.Currency) (WalletSet, error) {
	ordered := sortedCurrencies(currencies)
	wallets, err := s.walletRepo.LockForUpdate(ctx, tx, userID, ordered)
	if err != nil {
		return nil, fmt.Errorf("lock wallets of user %d: %w", userID, err)
	}

	set := make(WalletSet, len(wallets))
	for _, w := range wallets {
		set[w.Currency] = w
	}
	for _, c := range ordered {
		if set[c] == nil {
			return nil, fmt.Errorf("%s wallet of user %d missing after ensure: %w", c, userID, ErrInternalState)
		}
	}
	return set, nil
}

// ============================================================================
// Ordered wallet locking
// ============================================================================
//
// Two transfers in opposite directions, locking in caller order:
//
//   tx1 (alice -> bob): lock alice ... lock bob   (waits for tx2)
//   tx2 (bob -> alice): lock bob   ... lock alice (waits for tx1)
//
// Each holds the row the other needs. The database breaks the cycle by
// killing one of them, and the client sees an error for a valid request.
//
// LockOrdered therefore always locks by ascending user id, whatever role a
// user plays (source, destination, fee recipient):
//
//   tx1: lock alice -> lock bob
//   tx2: lock alice (waits for tx1) -> lock bob
//
// Within one user, currencies are locked in ascending name order in a single
// statement. Every engine locks through this function and nothing else
// takes wallet row locks, so no cycle can form.
//
// Missing wallets are created before the transaction opens, also in
// ascending user id order.
//
// ============================================================================

// LockOrdered locks wallets of several users, always in ascending user id
// order whatever role each user plays in the operation.
func (s *WalletService) LockOrdered(ctx context.Context, tx *gorm.DB, wanted map[int64][]model.Currency) (map[int64]WalletSet, error) {
	ids := make([]int64, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}

	locked := make(map[int64]WalletSet, len(ids))
	for _, id := range sortedUnique(ids) {
		set, err := s.LockWallets(ctx, tx, id, wanted[id])
		if err != nil {
			return nil, err
		}
		locked[id] = set
	}
	return locked, nil
}

// save writes back every given wallet. A version miss means someone wrote the
// row without holding its lock.
func (s *WalletService) save(ctx context.Context, tx *gorm.DB, wallets ...*model.Wallet) error {
	seen := make(map[int64]bool, len(wallets))
	for _, w := range wallets {
		if w == nil || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		if w.BalanceCents < 0 {
			return fmt.Errorf("%s wallet of user %d would go negative: %w", w.Currency, w.UserID, ErrInternalState)
		}
		if err := s.walletRepo.UpdateBalance(ctx, tx, w); err != nil {
			if errors.Is(err, repository.ErrStaleWallet) {
				return fmt.Errorf("%s wallet of user %d: %v: %w", w.Currency, w.UserID, err, ErrInternalState)
			}
			return fmt.Errorf("update %s wallet of user %d: %w", w.Currency, w.UserID, err)
		}
	}
	return nil
}

func sortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedCurrencies(currencies []model.Currency) []model.Currency {
	out := make([]model.Currency, 0, len(currencies))
	seen := make(map[model.Currency]bool, len(currencies))
	for _, c := range currencies {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
