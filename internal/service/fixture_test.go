package service

import (
	"context"
	"testing"

	"exchange/internal/model"
	"exchange/internal/repository"
	"exchange/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	users     *repository.UserRepository
	ledger    *Ledger
	exchange  *ExchangeService
	transfers *TransferService
	invoices  *InvoiceService
	admin     *AdminService
	statement *StatementService

	house *model.User
	alice *model.User
	bob   *model.User
}

type fixtureOptions struct {
	fee         FeePolicy
	noRecipient bool
	minDeposit  int64
	maxPageSize int
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	db := testutil.NewDB(t)
	users := repository.NewUserRepository(db)

	f := &fixture{db: db, users: users}
	f.house = testutil.CreateUser(t, db, "admin@trenvus.local", "house", model.RoleAdmin)
	f.alice = testutil.CreateUser(t, db, "alice@example.com", "alice", model.RoleUser)
	f.bob = testutil.CreateUser(t, db, "bob@example.com", "Bob", model.RoleUser)

	var recipient FeeRecipient
	if !opts.noRecipient {
		var err error
		recipient, err = ResolveFeeRecipient(ctx, users, configRecipient(f.house.Email))
		require.NoError(t, err)
	}

	f.ledger = NewLedger(db, log, LedgerOptions{MaxPageSize: opts.maxPageSize})
	f.exchange = NewExchangeService(f.ledger, opts.fee, recipient, opts.minDeposit, log)
	f.transfers = NewTransferService(f.ledger, users, log)
	f.invoices = NewInvoiceService(f.transfers, users, log)
	f.admin = NewAdminService(f.ledger, users, log)
	f.statement = NewStatementService(f.ledger)
	return f
}

func (f *fixture) snapshot(t *testing.T, userID int64) Snapshot {
	t.Helper()
	snap, err := f.ledger.Wallets().GetSnapshot(context.Background(), userID)
	require.NoError(t, err)
	return snap
}

func (f *fixture) fund(t *testing.T, userID, usd, trv int64) {
	t.Helper()
	_, err := f.admin.SetBalances(context.Background(), userID, usd, trv)
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, userID int64, typ model.TransactionType) int64 {
	t.Helper()
	return testutil.CountRows(t, f.db, userID, typ)
}

func (f *fixture) totalRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Transaction{}).Count(&n).Error)
	return n
}

func requireRejected(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	rejected, ok := AsRejected(err)
	require.True(t, ok, "expected rejection %q, got %v", reason, err)
	require.Equal(t, reason, rejected.Reason, rejected.Message)
}
