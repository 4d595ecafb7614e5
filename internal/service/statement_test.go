package service

import (
	"context"
	"errors"
	"testing"

	"exchange/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEntryAndRenderValues(t *testing.T) {
	p := model.Int64Ptr
	tests := []struct {
		name  string
		row   model.Transaction
		entry Entry
		want  []string
	}{
		{
			name:  "deposit",
			row:   model.Transaction{Type: model.TransactionTypeDeposit, USDAmountCents: p(2000)},
			entry: DepositEntry{USDCents: 2000},
			want:  []string{"USD +20.00"},
		},
		{
			name:  "usd to trv",
			row:   model.Transaction{Type: model.TransactionTypeConvertUSDToTRV, USDAmountCents: p(1000), TRVAmountCents: p(1000), FeeUSDCents: p(10)},
			entry: ConversionEntry{Direction: DirectionUSDToTRV, AmountCents: 1000, FeeCents: 10},
			want:  []string{"USD -10.10", "TRV +10.00"},
		},
		{
			name:  "trv to usd",
			row:   model.Transaction{Type: model.TransactionTypeConvertTRVToUSD, USDAmountCents: p(1000), TRVAmountCents: p(1000), FeeUSDCents: p(10)},
			entry: ConversionEntry{Direction: DirectionTRVToUSD, AmountCents: 1000, FeeCents: 10},
			want:  []string{"TRV -10.00", "USD +9.90"},
		},
		{
			name:  "transfer out",
			row:   model.Transaction{Type: model.TransactionTypeTransferOut, TRVAmountCents: p(125), CounterpartyUserID: p(7)},
			entry: TransferEntry{Currency: model.CurrencyTRV, AmountCents: 125, CounterpartyUserID: 7},
			want:  []string{"TRV -1.25"},
		},
		{
			name:  "usd transfer in",
			row:   model.Transaction{Type: model.TransactionTypeTransferIn, USDAmountCents: p(5), CounterpartyUserID: p(3)},
			entry: TransferEntry{Incoming: true, Currency: model.CurrencyUSD, AmountCents: 5, CounterpartyUserID: 3},
			want:  []string{"USD +0.05"},
		},
		{
			name:  "fee income",
			row:   model.Transaction{Type: model.TransactionTypeFeeIncome, USDAmountCents: p(10), CounterpartyUserID: p(2)},
			entry: FeeIncomeEntry{USDCents: 10, PayerUserID: 2},
			want:  []string{"USD +0.10"},
		},
		{
			name:  "adjustment",
			row:   model.Transaction{Type: model.TransactionTypeAdminAdjust, USDAmountCents: p(-300), TRVAmountCents: p(0)},
			entry: AdjustmentEntry{USDDeltaCents: -300},
			want:  []string{"USD -3.00"},
		},
		{
			name:  "empty adjustment",
			row:   model.Transaction{Type: model.TransactionTypeAdminAdjust, USDAmountCents: p(0), TRVAmountCents: p(0)},
			entry: AdjustmentEntry{},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := DecodeEntry(&tt.row)
			require.NoError(t, err)
			assert.Equal(t, tt.entry, entry)

			got := make([]string, 0)
			for _, v := range RenderValues(entry) {
				got = append(got, string(v.Currency)+" "+v.Formatted)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEntry_UnknownType(t *testing.T) {
	_, err := DecodeEntry(&model.Transaction{ID: 12, Type: "CHARGEBACK"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInternalState))
}

func TestStatement_PagesNewestFirst(t *testing.T) {
	f := newFixture(t, fixtureOptions{maxPageSize: 2})
	ctx := context.Background()

	_, err := f.exchange.Deposit(ctx, DepositRequest{UserID: f.alice.ID, AmountCents: 2000})
	require.NoError(t, err)
	_, err = f.exchange.Convert(ctx, ConvertRequest{UserID: f.alice.ID, AmountCents: 1000, Direction: DirectionUSDToTRV})
	require.NoError(t, err)
	_, err = f.transfers.Transfer(ctx, TransferRequest{FromUserID: f.alice.ID, Recipient: "bob", AmountCents: 400})
	require.NoError(t, err)

	page, err := f.statement.Statement(ctx, f.alice.ID, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Size)
	require.Len(t, page.Items, 2)
	assert.Equal(t, model.TransactionTypeTransferOut, page.Items[0].Type)
	assert.Equal(t, model.TransactionTypeConvertUSDToTRV, page.Items[1].Type)
	assert.Equal(t, model.FormatReference(page.Items[0].ID), page.Items[0].Reference)

	page, err = f.statement.Statement(ctx, f.alice.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.TransactionTypeDeposit, page.Items[0].Type)
	assert.Equal(t, []ValueLine{{Currency: model.CurrencyUSD, Cents: 2000, Formatted: "+20.00"}}, page.Items[0].Values)

	page, err = f.statement.Statement(ctx, f.alice.ID, -3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 1, page.Size)
	assert.Len(t, page.Items, 1)
}

func TestStatement_ByType(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.fund(t, f.alice.ID, 10000, 0)

	for i := 0; i < 3; i++ {
		_, err := f.exchange.Convert(ctx, ConvertRequest{UserID: f.alice.ID, AmountCents: 500, Direction: DirectionUSDToTRV})
		require.NoError(t, err)
	}

	page, err := f.statement.StatementByType(ctx, f.house.ID, model.TransactionTypeFeeIncome, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	for _, item := range page.Items {
		fee, ok := item.Entry.(FeeIncomeEntry)
		require.True(t, ok)
		assert.Equal(t, f.alice.ID, fee.PayerUserID)
		assert.Equal(t, int64(5), fee.USDCents)
	}

	page, err = f.statement.StatementByType(ctx, f.alice.ID, model.TransactionTypeDeposit, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Items)
}
