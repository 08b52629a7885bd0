package ledger

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

// Handler exposes the ledger over HTTP.
type Handler struct {
	processor *Processor
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

type createRequest struct {
	WalletID      string           `json:"wallet_id"`
	TransactionID string           `json:"transaction_id"`
	Type          string           `json:"type"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
}

type transactionResponse struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	WalletID      string           `json:"wallet_id"`
	Type          Type             `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      currency.Code    `json:"currency"`
	Wallet        *wallet.Snapshot `json:"wallet,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func toResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		TransactionID: t.ExternalID,
		WalletID:      t.WalletID,
		Type:          t.Type,
		Amount:        t.Amount,
		Currency:      t.Currency,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// Create applies a deposit or withdrawal and returns the recorded
// transaction with the wallet it moved.
func (h *Handler) Create(c *fiber.Ctx) error {
	var body createRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}
	if body.Amount == nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", "amount is required")
	}
	typ, err := ParseType(body.Type)
	if err != nil {
		return writeLedgerError(c, err)
	}
	code, err := currency.Parse(body.Currency)
	if err != nil {
		return writeLedgerError(c, err)
	}

	res, err := h.processor.Apply(c.UserContext(), Request{
		WalletID:   body.WalletID,
		ExternalID: body.TransactionID,
		Type:       typ,
		Amount:     *body.Amount,
		Currency:   code,
	})
	if err != nil {
		return writeLedgerError(c, err)
	}

	out := toResponse(res.Transaction)
	out.Wallet = &res.Wallet
	return c.Status(http.StatusCreated).JSON(out)
}

// History lists the transactions recorded against a wallet.
func (h *Handler) History(c *fiber.Ctx) error {
	txs, err := h.processor.History(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return writeLedgerError(c, err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Status maps a ledger error to its HTTP status.
func Status(err error) int {
	switch Code(err) {
	case "ok":
		return http.StatusOK
	case "duplicate_transaction":
		return http.StatusConflict
	case "wallet_not_found":
		return http.StatusNotFound
	case "insufficient_funds":
		return http.StatusUnprocessableEntity
	case "unsupported_currency", "invalid_request":
		return http.StatusBadRequest
	case "cancelled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerError(c *fiber.Ctx, err error) error {
	code := Code(err)
	msg := err.Error()
	if code == "store_failure" {
		// Driver detail stays in the logs.
		msg = ErrStoreFailure.Error()
	}
	return writeError(c, Status(err), code, msg)
}

func writeError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
}
