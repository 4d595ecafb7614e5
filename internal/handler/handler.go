package handler

import (
	"strconv"
	"strings"

	"exchange/internal/model"
	"exchange/internal/service"
	"exchange/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the ledger operations the HTTP surface exposes.
type Services struct {
	Wallets   *service.WalletService
	Exchange  *service.ExchangeService
	Transfers *service.TransferService
	Invoices  *service.InvoiceService
	Admin     *service.AdminService
	Statement *service.StatementService
	Users     service.UserDirectory
}

type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// fail maps service errors onto the response envelope: rejections are 400
// with their reason, anything else is logged and reported as 500.
func (h *Handler) fail(c *gin.Context, err error) {
	if rejected, ok := service.AsRejected(err); ok {
		response.BusinessError(c, rejected.Reason, rejected.Message)
		return
	}
	h.log.Error("ledger operation failed",
		zap.String("path", c.FullPath()),
		zap.Int64("user_id", currentUserID(c)),
		zap.Error(err))
	response.ServerError(c, "internal server error")
}

func idempotencyKey(c *gin.Context, fromBody string) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		return key
	}
	return fromBody
}

type walletView struct {
	UserID   int64  `json:"user_id"`
	USDCents int64  `json:"usd_cents"`
	TRVCents int64  `json:"trv_cents"`
	USD      string `json:"usd"`
	TRV      string `json:"trv"`
}

func newWalletView(s service.Snapshot) walletView {
	return walletView{
		UserID:   s.UserID,
		USDCents: s.USDCents,
		TRVCents: s.TRVCents,
		USD:      service.FormatCents(s.USDCents),
		TRV:      service.FormatCents(s.TRVCents),
	}
}

type operationView struct {
	Wallet    walletView `json:"wallet"`
	LedgerID  int64      `json:"ledger_id"`
	Reference string     `json:"reference"`
	FeeCents  *int64     `json:"fee_cents,omitempty"`
	Replayed  bool       `json:"replayed"`
}

func newOperationView(r *service.OperationResult) operationView {
	return operationView{
		Wallet:    newWalletView(r.Snapshot),
		LedgerID:  r.LedgerID,
		Reference: r.Reference,
		Replayed:  r.Replayed,
	}
}

// GetWallet GET /api/v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	snap, err := h.svc.Wallets.GetSnapshot(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newWalletView(snap))
}

// EnsureWallets POST /api/v1/wallet/ensure
func (h *Handler) EnsureWallets(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)
	if err := h.svc.Wallets.EnsureWallets(ctx, userID); err != nil {
		h.fail(c, err)
		return
	}
	snap, err := h.svc.Wallets.GetSnapshot(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newWalletView(snap))
}

type DepositRequest struct {
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Deposit POST /api/v1/exchange/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	cents, err := service.ParseCents(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.svc.Exchange.Deposit(c.Request.Context(), service.DepositRequest{
		UserID:         currentUserID(c),
		AmountCents:    cents,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newOperationView(result))
}

type ConvertRequest struct {
	Amount         string `json:"amount" binding:"required"`
	Direction      string `json:"direction" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Convert POST /api/v1/exchange/convert
func (h *Handler) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	cents, err := service.ParseCents(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	direction, err := service.ParseDirection(strings.ToUpper(strings.TrimSpace(req.Direction)))
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.svc.Exchange.Convert(c.Request.Context(), service.ConvertRequest{
		UserID:         currentUserID(c),
		AmountCents:    cents,
		Direction:      direction,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	fee := result.FeeCents
	response.Success(c, operationView{
		Wallet:    newWalletView(result.Snapshot),
		LedgerID:  result.LedgerID,
		Reference: result.Reference,
		FeeCents:  &fee,
		Replayed:  result.Replayed,
	})
}

type TransferRequest struct {
	Recipient      string `json:"recipient" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Transfer POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	cents, err := service.ParseCents(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.svc.Transfers.Transfer(c.Request.Context(), service.TransferRequest{
		FromUserID:     currentUserID(c),
		Recipient:      req.Recipient,
		AmountCents:    cents,
		Currency:       model.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newOperationView(result))
}

type GenerateInvoiceRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Description string `json:"description"`
}

// GenerateInvoice POST /api/v1/invoices
func (h *Handler) GenerateInvoice(c *gin.Context) {
	var req GenerateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	cents, err := service.ParseCents(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	invoice, err := h.svc.Invoices.Generate(c.Request.Context(), service.GenerateInvoiceRequest{
		UserID:      currentUserID(c),
		AmountCents: cents,
		Currency:    model.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		Description: req.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, invoice)
}

type PayInvoiceRequest struct {
	Token          string `json:"token" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PayInvoice POST /api/v1/invoices/pay
func (h *Handler) PayInvoice(c *gin.Context) {
	var req PayInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	cents, err := service.ParseCents(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.svc.Invoices.Pay(c.Request.Context(), service.PayInvoiceRequest{
		PayerUserID:        currentUserID(c),
		Token:              req.Token,
		ClaimedAmountCents: cents,
		ClaimedCurrency:    model.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		IdempotencyKey:     idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newOperationView(result))
}

// ListTransactions GET /api/v1/transactions?page=0&size=20&type=DEPOSIT
func (h *Handler) ListTransactions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		response.ParamError(c, "page must be an integer")
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil {
		response.ParamError(c, "size must be an integer")
		return
	}

	ctx := c.Request.Context()
	userID := currentUserID(c)

	var result *service.StatementPage
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		typ, ok := model.ParseTransactionType(strings.ToUpper(raw))
		if !ok {
			response.ParamError(c, "unknown transaction type "+raw)
			return
		}
		result, err = h.svc.Statement.StatementByType(ctx, userID, typ, page, size)
	} else {
		result, err = h.svc.Statement.Statement(ctx, userID, page, size)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type SetBalancesRequest struct {
	USD string `json:"usd" binding:"required"`
	TRV string `json:"trv" binding:"required"`
}

// SetBalances PUT /api/v1/admin/users/:id/wallet
func (h *Handler) SetBalances(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "invalid user id")
		return
	}
	var req SetBalancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	usd, err := service.ParseCentsAllowZero(req.USD)
	if err != nil {
		h.fail(c, err)
		return
	}
	trv, err := service.ParseCentsAllowZero(req.TRV)
	if err != nil {
		h.fail(c, err)
		return
	}

	snap, err := h.svc.Admin.SetBalances(c.Request.Context(), userID, usd, trv)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("admin balance override",
		zap.Int64("admin_user_id", currentUserID(c)),
		zap.Int64("user_id", userID))
	response.Success(c, newWalletView(snap))
}

// FeeIncome GET /api/v1/admin/users/:id/fee-income?size=20
func (h *Handler) FeeIncome(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "invalid user id")
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil {
		response.ParamError(c, "size must be an integer")
		return
	}

	result, err := h.svc.Admin.FeeIncome(c.Request.Context(), userID, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}
