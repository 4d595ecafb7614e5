package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"exchange/internal/model"
	"exchange/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockRecorder captures the owner of every wallet row locked with FOR UPDATE,
// in statement order. SQLite drops the locking clause from the SQL it runs,
// but the clause stays on the statement, so the order is still observable.
type lockRecorder struct {
	mu    sync.Mutex
	users []int64
}

func recordWalletLocks(t *testing.T, db *gorm.DB) *lockRecorder {
	t.Helper()
	rec := &lockRecorder{}
	err := db.Callback().Query().Before("gorm:query").Register("test:record_wallet_locks", func(tx *gorm.DB) {
		if tx.Statement.Table != "wallets" {
			return
		}
		if _, locking := tx.Statement.Clauses["FOR"]; !locking {
			return
		}
		if id, ok := whereVar(tx, "user_id = ?"); ok {
			rec.mu.Lock()
			rec.users = append(rec.users, id.(int64))
			rec.mu.Unlock()
		}
	})
	require.NoError(t, err)
	return rec
}

// take returns the recorded owners and starts a new recording.
func (r *lockRecorder) take() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.users
	r.users = nil
	return out
}

// whereVar returns the first bound value of the WHERE expression starting
// with prefix.
func whereVar(tx *gorm.DB, prefix string) (interface{}, bool) {
	c, ok := tx.Statement.Clauses["WHERE"]
	if !ok {
		return nil, false
	}
	where, ok := c.Expression.(clause.Where)
	if !ok {
		return nil, false
	}
	for _, e := range where.Exprs {
		if expr, ok := e.(clause.Expr); ok && strings.HasPrefix(expr.SQL, prefix) && len(expr.Vars) > 0 {
			return expr.Vars[0], true
		}
	}
	return nil, false
}

func TestLockOrder_TransfersLockAscendingWhicheverWay(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.fund(t, f.alice.ID, 0, 1000)
	f.fund(t, f.bob.ID, 0, 1000)
	require.Less(t, f.alice.ID, f.bob.ID)
	locks := recordWalletLocks(t, f.db)

	_, err := f.transfers.Transfer(ctx, TransferRequest{FromUserID: f.alice.ID, Recipient: "bob", AmountCents: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{f.alice.ID, f.bob.ID}, locks.take())

	_, err = f.transfers.Transfer(ctx, TransferRequest{FromUserID: f.bob.ID, Recipient: "alice", AmountCents: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{f.alice.ID, f.bob.ID}, locks.take())
}

func TestLockOrder_InvoicePaymentLocksAscending(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.fund(t, f.bob.ID, 0, 1000)

	inv, err := f.invoices.Generate(ctx, GenerateInvoiceRequest{UserID: f.alice.ID, AmountCents: 100, Currency: model.CurrencyTRV})
	require.NoError(t, err)

	locks := recordWalletLocks(t, f.db)
	_, err = f.invoices.Pay(ctx, PayInvoiceRequest{
		PayerUserID:        f.bob.ID,
		Token:              inv.Token,
		ClaimedAmountCents: 100,
		ClaimedCurrency:    model.CurrencyTRV,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{f.alice.ID, f.bob.ID}, locks.take())
}

func TestLockOrder_ConversionsAroundFeeRecipient(t *testing.T) {
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	low := testutil.CreateUser(t, db, "low@example.com", "low", model.RoleUser)
	house := testutil.CreateUser(t, db, "house@example.com", "house", model.RoleAdmin)
	high := testutil.CreateUser(t, db, "high@example.com", "high", model.RoleUser)
	require.Less(t, low.ID, house.ID)
	require.Less(t, house.ID, high.ID)

	ledger := NewLedger(db, log, LedgerOptions{})
	exchange := NewExchangeService(ledger, PercentFee{Percent: 1}, FeeRecipient{UserID: house.ID}, 0, log)
	for _, u := range []*model.User{low, high} {
		_, err := exchange.Deposit(ctx, DepositRequest{UserID: u.ID, AmountCents: 5000})
		require.NoError(t, err)
	}
	locks := recordWalletLocks(t, db)

	tests := []struct {
		name string
		user *model.User
		want []int64
	}{
		{"payer below recipient", low, []int64{low.ID, house.ID}},
		{"payer above recipient", high, []int64{house.ID, high.ID}},
		{"recipient converting for itself", house, []int64{house.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exchange.Convert(ctx, ConvertRequest{UserID: tt.user.ID, AmountCents: 1000, Direction: DirectionUSDToTRV})
			if tt.user.ID == house.ID {
				// the recipient holds only collected fees, which do not cover the amount
				requireRejected(t, err, ReasonInsufficientBalance)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, locks.take())
		})
	}
}
