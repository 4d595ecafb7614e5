package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"exchange/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	InvoiceType              = "INVOICE"
	MaxInvoiceDescriptionLen = 140
)

// InvoicePayload is everything a QR invoice carries. The token is the payload
// itself, so paying needs no server-side invoice state.
type InvoicePayload struct {
	Type              string         `json:"type"`
	InvoiceID         string         `json:"invoice_id"`
	RecipientID       int64          `json:"recipient_id"`
	RecipientEmail    string         `json:"recipient_email"`
	RecipientNickname string         `json:"recipient_nickname,omitempty"`
	AmountCents       int64          `json:"amount_cents"`
	Currency          model.Currency `json:"currency"`
	Description       string         `json:"description,omitempty"`
	CreatedAt         int64          `json:"created_at"`
}

type Invoice struct {
	Token string `json:"token"`
	InvoicePayload
}

type GenerateInvoiceRequest struct {
	UserID      int64
	AmountCents int64
	Currency    model.Currency
	Description string
}

type PayInvoiceRequest struct {
	PayerUserID        int64
	Token              string
	ClaimedAmountCents int64
	ClaimedCurrency    model.Currency
	// IdempotencyKey defaults to "invoice:<invoice id>".
	IdempotencyKey string
}

type InvoiceService struct {
	transfers *TransferService
	users     UserDirectory
	log       *zap.Logger
	now       func() time.Time
}

func NewInvoiceService(transfers *TransferService, users UserDirectory, log *zap.Logger) *InvoiceService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InvoiceService{transfers: transfers, users: users, log: log, now: time.Now}
}

func (s *InvoiceService) Generate(ctx context.Context, req GenerateInvoiceRequest) (*Invoice, error) {
	if req.AmountCents <= 0 {
		return nil, reject(ReasonInvalidAmount, "invoice amount must be greater than zero")
	}
	if _, ok := model.ParseCurrency(string(req.Currency)); !ok {
		return nil, reject(ReasonInvalidCurrency, "unsupported currency %q", req.Currency)
	}
	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > MaxInvoiceDescriptionLen {
		return nil, reject(ReasonInvalidInvoice, "description longer than %d characters", MaxInvoiceDescriptionLen)
	}

	recipient, err := requireUser(ctx, s.users, req.UserID, ReasonUserNotFound)
	if err != nil {
		return nil, err
	}

	payload := InvoicePayload{
		Type:              InvoiceType,
		InvoiceID:         uuid.NewString(),
		RecipientID:       recipient.ID,
		RecipientEmail:    recipient.Email,
		RecipientNickname: recipient.Nickname,
		AmountCents:       req.AmountCents,
		Currency:          req.Currency,
		Description:       description,
		CreatedAt:         s.now().UnixMilli(),
	}
	return &Invoice{Token: EncodeInvoice(payload), InvoicePayload: payload}, nil
}

func EncodeInvoice(p InvoicePayload) string {
	// Marshal of this struct cannot fail.
	body, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(body)
}

// DecodeInvoice parses a token without trusting it: every field a payment
// depends on is validated.
func DecodeInvoice(token string) (InvoicePayload, error) {
	var p InvoicePayload
	body, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return p, reject(ReasonInvalidInvoice, "invoice token is not valid base64")
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, reject(ReasonInvalidInvoice, "invoice token is not a valid payload")
	}
	if p.Type != InvoiceType {
		return p, reject(ReasonInvalidInvoice, "unsupported QR type %q", p.Type)
	}
	if _, err := uuid.Parse(p.InvoiceID); err != nil {
		return p, reject(ReasonInvalidInvoice, "invoice id is missing or malformed")
	}
	if p.RecipientID <= 0 || p.AmountCents <= 0 {
		return p, reject(ReasonInvalidInvoice, "invoice recipient or amount is missing")
	}
	if _, ok := model.ParseCurrency(string(p.Currency)); !ok {
		return p, reject(ReasonInvalidInvoice, "invoice currency %q is not supported", p.Currency)
	}
	return p, nil
}

func (s *InvoiceService) Decode(token string) (InvoicePayload, error) {
	return DecodeInvoice(token)
}

// Pay settles an invoice through the same locked two-wallet move as a
// transfer. The claimed amount and currency must equal the encoded ones.
func (s *InvoiceService) Pay(ctx context.Context, req PayInvoiceRequest) (result *OperationResult, err error) {
	started := time.Now()
	var c *committed
	defer func() { observe("pay_invoice", started, c, err) }()

	invoice, err := DecodeInvoice(req.Token)
	if err != nil {
		return nil, err
	}
	if invoice.RecipientID == req.PayerUserID {
		return nil, reject(ReasonSelfPayment, "cannot pay your own invoice")
	}
	if req.ClaimedAmountCents != invoice.AmountCents {
		return nil, reject(ReasonInvoiceAmountMismatch, "invoice amount is %s but %s was submitted",
			FormatCents(invoice.AmountCents), FormatCents(req.ClaimedAmountCents))
	}
	if req.ClaimedCurrency != invoice.Currency {
		return nil, reject(ReasonInvoiceCurrencyMismatch, "invoice currency is %s but %s was submitted",
			invoice.Currency, req.ClaimedCurrency)
	}
	if _, err := requireUser(ctx, s.users, invoice.RecipientID, ReasonRecipientNotFound); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = "invoice:" + invoice.InvoiceID
	}
	if key, err = normalizeKey(key); err != nil {
		return nil, err
	}

	c, err = s.transfers.moveFunds(ctx, "pay_invoice", req.PayerUserID, invoice.RecipientID, invoice.Currency, invoice.AmountCents, key)
	if err != nil {
		return nil, err
	}
	return operationResult(c), nil
}
