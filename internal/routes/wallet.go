package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nile-pay/nile_pay/internal/ledger"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints. idem guards wallet
// creation against client retries.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idem fiber.Handler) {
	r.Post("/wallets", idem, h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Patch("/wallets/:walletId", h.Update)
}

// RegisterLedgerRoutes wires transaction endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	r.Post("/transactions", h.Create)
	r.Get("/wallets/:walletId/transactions", h.History)
}
