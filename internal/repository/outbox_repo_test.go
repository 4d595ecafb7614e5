package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"exchange/internal/model"
	"exchange/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository_Lifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	event := model.LedgerEvent{EventID: "EVT1", Operation: "deposit", UserID: 3, LedgerID: 11}
	require.NoError(t, repo.Enqueue(ctx, nil, "ledger.events", "3", event))
	require.NoError(t, repo.Enqueue(ctx, nil, "ledger.events", "4", model.LedgerEvent{EventID: "EVT2"}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "3", pending[0].MessageKey)

	var decoded model.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(pending[0].Payload), &decoded))
	assert.Equal(t, int64(11), decoded.LedgerID)

	require.NoError(t, repo.MarkAsSent(ctx, pending[0].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, pending[1].ID))

	n, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	moved, err := repo.RequeueFailed(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved, "recently failed messages stay parked")

	moved, err = repo.RequeueFailed(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
}
