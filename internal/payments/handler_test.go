package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tipvault/internal/ledger"
)

func newApp(h *Handler) *fiber.App {
	app := fiber.New()
	app.Post("/transfers", h.Transfer)
	return app
}

func TestHandlerTransfer(t *testing.T) {
	svc, led := newService(nil)
	ledger.SeedBalance(led, alice, 150_000_000)
	app := newApp(NewHandler(svc))

	body := `{"from":"discord:10","to":"telegram:20","amount":"0.5"}`
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["from_balance"] != "1.00000000" {
		t.Fatalf("unexpected from_balance %q", out["from_balance"])
	}
}

func TestHandlerTransferErrors(t *testing.T) {
	svc, led := newService(nil)
	ledger.SeedBalance(led, alice, 10)
	app := newApp(NewHandler(svc))

	cases := map[string]string{
		"bad identity":   `{"from":"slack:1","to":"telegram:20","amount":"1"}`,
		"bad amount":     `{"from":"discord:10","to":"telegram:20","amount":"-1"}`,
		"zero":           `{"from":"discord:10","to":"telegram:20","amount":"0"}`,
		"self":           `{"from":"discord:10","to":"discord:10","amount":"1"}`,
		"insufficient":   `{"from":"discord:10","to":"telegram:20","amount":"1"}`,
		"malformed json": `{"from":`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: request: %v", name, err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}
