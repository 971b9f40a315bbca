package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func envelopeFor(t *testing.T, handler fiber.Handler) (int, map[string]any) {
	t.Helper()

	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding response body: %v", err)
	}
	return resp.StatusCode, body
}

func TestSuccessEnvelope(t *testing.T) {
	status, body := envelopeFor(t, func(c *fiber.Ctx) error {
		return Success(c, fiber.StatusCreated, fiber.Map{"id": "abc"})
	})

	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d, got %d", fiber.StatusCreated, status)
	}
	if success, ok := body["success"].(bool); !ok || !success {
		t.Fatalf("expected success=true, got %v", body["success"])
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	if data["id"] != "abc" {
		t.Fatalf("expected data.id %q, got %v", "abc", data["id"])
	}
	if _, present := body["error"]; present {
		t.Fatalf("success envelope must not carry an error field")
	}
}

func TestErrorEnvelope(t *testing.T) {
	status, body := envelopeFor(t, func(c *fiber.Ctx) error {
		return Error(c, fiber.StatusConflict, "no mobile device has paired yet")
	})

	if status != fiber.StatusConflict {
		t.Fatalf("expected status %d, got %d", fiber.StatusConflict, status)
	}
	if success, ok := body["success"].(bool); !ok || success {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if body["error"] != "no mobile device has paired yet" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
	if _, present := body["data"]; present {
		t.Fatalf("error envelope must not carry a data field")
	}
}
