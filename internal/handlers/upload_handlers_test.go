package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/store"
)

func TestUploadStoresFileAndRecord(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.mobileSession(t, "phone-a", "Alice's Phone")

	body, contentType := multipartBody(t, map[string][]byte{"photo.jpg": []byte("jpeg-bytes")})
	resp := env.request(t, http.MethodPost, "/upload", body, requestOpts{
		sessionID:   sessionID,
		deviceID:    "phone-a",
		contentType: contentType,
	})
	assertStatus(t, resp, fiber.StatusCreated)

	data := dataField(t, decodeJSONMap(t, resp))
	records, ok := data["records"].([]any)
	if !ok || len(records) != 1 {
		t.Fatalf("expected one record in response, got %v", data["records"])
	}
	record := records[0].(map[string]any)
	if record["fileName"] != "photo.jpg" {
		t.Fatalf("expected fileName photo.jpg, got %v", record["fileName"])
	}
	if record["status"] != "complete" {
		t.Fatalf("expected status complete, got %v", record["status"])
	}
	if record["direction"] != "to_desktop" {
		t.Fatalf("expected direction to_desktop, got %v", record["direction"])
	}

	saved, err := os.ReadFile(filepath.Join(env.saveDir, "photo.jpg"))
	if err != nil {
		t.Fatalf("expected saved file: %v", err)
	}
	if string(saved) != "jpeg-bytes" {
		t.Fatalf("saved content mismatch: %q", saved)
	}
}

func TestUploadDuplicateNamesGetSuffixed(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.mobileSession(t, "phone-a", "")

	for i := 0; i < 2; i++ {
		body, contentType := multipartBody(t, map[string][]byte{"photo.jpg": []byte("x")})
		resp := env.request(t, http.MethodPost, "/upload", body, requestOpts{
			sessionID:   sessionID,
			contentType: contentType,
		})
		assertStatus(t, resp, fiber.StatusCreated)
		resp.Body.Close()
	}

	if _, err := os.Stat(filepath.Join(env.saveDir, "photo.jpg")); err != nil {
		t.Fatalf("expected photo.jpg: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.saveDir, "photo (1).jpg")); err != nil {
		t.Fatalf("expected photo (1).jpg: %v", err)
	}
}

func TestUploadOverLimitFailsAndRemovesPartial(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.mobileSession(t, "phone-a", "")

	if err := env.policy.Set(1 << 20); err != nil {
		t.Fatalf("failed lowering limit: %v", err)
	}

	oversized := []byte(strings.Repeat("a", (1<<20)+1))
	body, contentType := multipartBody(t, map[string][]byte{"big.bin": oversized})
	resp := env.request(t, http.MethodPost, "/upload", body, requestOpts{
		sessionID:   sessionID,
		contentType: contentType,
	})
	assertStatus(t, resp, fiber.StatusRequestEntityTooLarge)

	if _, err := os.Stat(filepath.Join(env.saveDir, "big.bin")); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, stat err: %v", err)
	}

	records, err := env.store.List(store.DeviceScope("phone-a"))
	if err != nil {
		t.Fatalf("failed listing records: %v", err)
	}
	if len(records) != 1 || string(records[0].Status) != "failed" {
		t.Fatalf("expected a single failed record, got %+v", records)
	}
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.mobileSession(t, "phone-a", "")

	resp := env.request(t, http.MethodPost, "/upload", strings.NewReader("hello"), requestOpts{
		sessionID:   sessionID,
		contentType: "text/plain",
	})
	assertStatus(t, resp, fiber.StatusBadRequest)
}

func TestRegisterDesktopPathRequiresPairedMobile(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.desktopSession(t)

	resp := env.request(t, http.MethodPost, "/upload-desktop-path",
		strings.NewReader(`{"path":"/tmp/nope.txt"}`), requestOpts{
			sessionID:   sessionID,
			deviceID:    "desktop",
			contentType: fiber.MIMEApplicationJSON,
		})
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestRegisterDesktopPathSharesExistingFile(t *testing.T) {
	env := setupTestEnv(t)
	env.mobileSession(t, "phone-a", "Alice's Phone")
	sessionID := env.desktopSession(t)

	src := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(src, []byte("pdf-bytes"), 0o644); err != nil {
		t.Fatalf("failed writing source file: %v", err)
	}

	resp := env.request(t, http.MethodPost, "/upload-desktop-path",
		strings.NewReader(`{"path":"`+src+`"}`), requestOpts{
			sessionID:   sessionID,
			deviceID:    "desktop",
			contentType: fiber.MIMEApplicationJSON,
		})
	assertStatus(t, resp, fiber.StatusCreated)

	data := dataField(t, decodeJSONMap(t, resp))
	if data["direction"] != "to_mobile" {
		t.Fatalf("expected direction to_mobile, got %v", data["direction"])
	}
	if data["fileName"] != "report.pdf" {
		t.Fatalf("expected fileName report.pdf, got %v", data["fileName"])
	}
	if data["filePath"] != src {
		t.Fatalf("expected original path kept, got %v", data["filePath"])
	}
	if data["deviceID"] != "phone-a" {
		t.Fatalf("expected record scoped to phone-a, got %v", data["deviceID"])
	}
}

func TestUploadRequiresMobileScope(t *testing.T) {
	env := setupTestEnv(t)
	desktopID := env.desktopSession(t)

	body, contentType := multipartBody(t, map[string][]byte{"a.txt": []byte("a")})
	resp := env.request(t, http.MethodPost, "/upload-desktop", body, requestOpts{
		sessionID:   desktopID,
		deviceID:    "desktop",
		contentType: contentType,
	})
	// No mobile device has paired yet.
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestUploadMarksRecordFailedWhenFinalizeFails(t *testing.T) {
	env := setupTestEnv(t)
	sessionID := env.mobileSession(t, "phone-a", "")

	// Block the store from finalizing so the completion write errors after
	// the bytes have landed on disk.
	trigger := `CREATE TRIGGER block_complete BEFORE UPDATE ON transfer_history
		WHEN NEW.status = 'complete'
		BEGIN SELECT RAISE(ABORT, 'status locked'); END`
	if err := env.db.Exec(trigger).Error; err != nil {
		t.Fatalf("failed installing trigger: %v", err)
	}

	body, contentType := multipartBody(t, map[string][]byte{"doomed.txt": []byte("abc")})
	resp := env.request(t, http.MethodPost, "/upload", body, requestOpts{
		sessionID:   sessionID,
		deviceID:    "phone-a",
		contentType: contentType,
	})
	assertStatus(t, resp, fiber.StatusInternalServerError)

	records, err := env.store.List(store.DesktopScope())
	if err != nil {
		t.Fatalf("failed listing records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].Status != models.TransferStatusFailed {
		t.Fatalf("expected failed status, got %q", records[0].Status)
	}

	// The partial file is gone.
	entries, err := os.ReadDir(env.saveDir)
	if err != nil {
		t.Fatalf("failed reading save dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty save dir, found %d entries", len(entries))
	}
}
