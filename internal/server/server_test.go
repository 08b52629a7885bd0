package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nile-pay/nile_pay/internal/config"
	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/logging"
	"github.com/nile-pay/nile_pay/internal/metrics"
)

func TestNewServesHealthOnMemoryBackends(t *testing.T) {
	cfg := config.Config{
		AppName:        "NilePayTest",
		AppEnv:         "test",
		Port:           "0",
		IdempotencyTTL: time.Minute,
		FXRates:        currency.DefaultRates(),
	}
	srv, err := New(cfg, nil, nil, metrics.NewRegistry(), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/wallets/missing", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown wallet, got %d", resp.StatusCode)
	}
}

func TestNewRejectsBadRates(t *testing.T) {
	cfg := config.Config{AppEnv: "test", FXRates: currency.Rates{}}
	if _, err := New(cfg, nil, nil, nil, logging.Discard()); err == nil {
		t.Fatal("expected error for empty rate table")
	}
}
