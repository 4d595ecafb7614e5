package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"exchange/internal/config"
	"exchange/internal/model"
	"exchange/internal/repository"
	"exchange/internal/service"
	"exchange/internal/testutil"
	"exchange/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	router *gin.Engine
	admin  *model.User
	alice  *model.User
	bob    *model.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	db := testutil.NewDB(t)
	users := repository.NewUserRepository(db)

	s := &testServer{
		admin: testutil.CreateUser(t, db, "admin@trenvus.local", "house", model.RoleAdmin),
		alice: testutil.CreateUser(t, db, "alice@example.com", "alice", model.RoleUser),
		bob:   testutil.CreateUser(t, db, "bob@example.com", "bob", model.RoleUser),
	}

	recipient, err := service.ResolveFeeRecipient(context.Background(), users, config.FeeRecipientConfig{Email: s.admin.Email})
	require.NoError(t, err)

	ledger := service.NewLedger(db, log, service.LedgerOptions{})
	transfers := service.NewTransferService(ledger, users, log)
	h := NewHandler(Services{
		Wallets:   ledger.Wallets(),
		Exchange:  service.NewExchangeService(ledger, service.PercentFee{Percent: 1}, recipient, 0, log),
		Transfers: transfers,
		Invoices:  service.NewInvoiceService(transfers, users, log),
		Admin:     service.NewAdminService(ledger, users, log),
		Statement: service.NewStatementService(ledger),
		Users:     users,
	}, log)
	s.router = SetupRouter(h, log)
	return s
}

type envelope struct {
	Code    int             `json:"code"`
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, body interface{}, headers ...string) (int, envelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(userID, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestHandler_DepositAndConvert(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/exchange/deposit", s.alice.ID, gin.H{"amount": "20.00"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var op operationView
	decodeData(t, env, &op)
	assert.Equal(t, int64(2000), op.Wallet.USDCents)
	assert.Equal(t, "20.00", op.Wallet.USD)
	assert.Equal(t, model.FormatReference(op.LedgerID), op.Reference)

	status, env = s.do(t, http.MethodPost, "/api/v1/exchange/convert", s.alice.ID,
		gin.H{"amount": "10", "direction": "usd_to_trv"},
		HeaderIdempotencyKey, "conv-1")
	require.Equal(t, http.StatusOK, status, env.Message)
	decodeData(t, env, &op)
	assert.Equal(t, int64(990), op.Wallet.USDCents)
	assert.Equal(t, int64(1000), op.Wallet.TRVCents)
	require.NotNil(t, op.FeeCents)
	assert.Equal(t, int64(10), *op.FeeCents)
	assert.False(t, op.Replayed)

	// the header key wins over the body key
	status, env = s.do(t, http.MethodPost, "/api/v1/exchange/convert", s.alice.ID,
		gin.H{"amount": "10", "direction": "USD_TO_TRV", "idempotency_key": "other"},
		HeaderIdempotencyKey, "conv-1")
	require.Equal(t, http.StatusOK, status)
	decodeData(t, env, &op)
	assert.True(t, op.Replayed)
	assert.Equal(t, int64(990), op.Wallet.USDCents)

	status, env = s.do(t, http.MethodGet, "/api/v1/wallet", s.admin.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var wallet walletView
	decodeData(t, env, &wallet)
	assert.Equal(t, int64(10), wallet.USDCents)
}

func TestHandler_RejectionsAreBadRequests(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/exchange/deposit", s.alice.ID, gin.H{"amount": "5"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeBusinessError, env.Code)
	assert.Equal(t, service.ReasonDepositMinimumNotMet, env.Reason)

	status, env = s.do(t, http.MethodPost, "/api/v1/exchange/deposit", s.alice.ID, gin.H{"amount": "12.345"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, service.ReasonInvalidPrecision, env.Reason)

	status, env = s.do(t, http.MethodPost, "/api/v1/exchange/convert", s.alice.ID, gin.H{"amount": "1", "direction": "SIDEWAYS"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, service.ReasonInvalidDirection, env.Reason)

	status, env = s.do(t, http.MethodPost, "/api/v1/transfers", s.alice.ID, gin.H{"recipient": "alice", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, service.ReasonSelfTransfer, env.Reason)

	status, env = s.do(t, http.MethodPost, "/api/v1/transfers", s.alice.ID, gin.H{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestHandler_Identity(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/v1/wallet", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	status, _ = s.do(t, http.MethodGet, "/api/v1/wallet", 0, nil, HeaderUserID, "abc")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandler_AdminRoutes(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/admin/users/" + strconv.FormatInt(s.bob.ID, 10) + "/wallet"
	body := gin.H{"usd": "100", "trv": "0"}

	status, _ := s.do(t, http.MethodPut, path, s.alice.ID, body)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPut, path, 9999, body)
	assert.Equal(t, http.StatusForbidden, status)

	status, env := s.do(t, http.MethodPut, path, s.admin.ID, body)
	require.Equal(t, http.StatusOK, status, env.Message)
	var wallet walletView
	decodeData(t, env, &wallet)
	assert.Equal(t, int64(10000), wallet.USDCents)
	assert.Equal(t, int64(0), wallet.TRVCents)

	status, env = s.do(t, http.MethodPost, "/api/v1/exchange/convert", s.bob.ID, gin.H{"amount": "50", "direction": "USD_TO_TRV"})
	require.Equal(t, http.StatusOK, status, env.Message)

	feePath := "/api/v1/admin/users/" + strconv.FormatInt(s.admin.ID, 10) + "/fee-income"
	status, env = s.do(t, http.MethodGet, feePath, s.admin.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var income service.FeeIncome
	decodeData(t, env, &income)
	assert.Equal(t, int64(50), income.TotalUSDCents)
	require.Len(t, income.Items, 1)
	assert.Equal(t, "bob@example.com", income.Items[0].PayerEmail)
}

func TestHandler_InvoiceFlowAndStatement(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPut, "/api/v1/admin/users/"+strconv.FormatInt(s.alice.ID, 10)+"/wallet", s.admin.ID, gin.H{"usd": "0", "trv": "30"})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = s.do(t, http.MethodPost, "/api/v1/invoices", s.bob.ID, gin.H{"amount": "12.50", "currency": "trv", "description": "books"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var invoice service.Invoice
	decodeData(t, env, &invoice)
	require.NotEmpty(t, invoice.Token)

	status, env = s.do(t, http.MethodPost, "/api/v1/invoices/pay", s.alice.ID, gin.H{"token": invoice.Token, "amount": "12.5", "currency": "TRV"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var op operationView
	decodeData(t, env, &op)
	assert.Equal(t, int64(1750), op.Wallet.TRVCents)

	status, env = s.do(t, http.MethodGet, "/api/v1/transactions?page=0&size=10", s.alice.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var page service.StatementPage
	decodeData(t, env, &page)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, model.TransactionTypeTransferOut, page.Items[0].Type)
	assert.Equal(t, "-12.50", page.Items[0].Values[0].Formatted)

	status, env = s.do(t, http.MethodGet, "/api/v1/transactions?type=transfer_in", s.bob.ID, nil)
	require.Equal(t, http.StatusOK, status)
	decodeData(t, env, &page)
	assert.Equal(t, int64(1), page.Total)

	status, _ = s.do(t, http.MethodGet, "/api/v1/transactions?type=REFUND", s.bob.ID, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
