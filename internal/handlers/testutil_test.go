package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/landrop/server/internal/config"
	"github.com/landrop/server/internal/database"
	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/policy"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/internal/syncer"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/pairtoken"
)

type testEnv struct {
	app      *fiber.App
	cfg      *config.Config
	db       *gorm.DB
	store    *store.RecordStore
	sessions *session.Manager
	policy   *policy.UploadPolicy
	hub      *syncer.Hub
	saveDir  string
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		pairtoken.SetSecret(pairtoken.RandomSecret())
	})

	db, err := database.ConnectInMemory()
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	saveDir := t.TempDir()
	cfg := config.New(t.TempDir(), saveDir)

	sessions := session.NewManager(cfg.Session.TTL)
	recordStore := store.NewRecordStore(db)
	uploadPolicy, err := policy.NewUploadPolicy(cfg.Upload.MaxBytes, config.MinUploadBytes, config.MaxUploadBytes)
	if err != nil {
		t.Fatalf("failed building upload policy: %v", err)
	}
	hub := syncer.NewHub(recordStore.Events())

	sessionMiddleware := middleware.NewSessionMiddleware(sessions)
	rootHandler := NewRootHandler(sessions, "http://192.168.1.10:5000")
	uploadHandler := NewUploadHandler(cfg, recordStore, uploadPolicy, sessions)
	downloadHandler := NewDownloadHandler(recordStore)
	recordHandler := NewRecordHandler(recordStore)
	settingsHandler := NewSettingsHandler(cfg, uploadPolicy)

	app := fiber.New(fiber.Config{StreamRequestBody: true})
	app.Use(recover.New())
	app.Get("/health", Health)
	app.Use(sessionMiddleware.Resolve)
	app.Get("/", rootHandler.Index)
	app.Get("/auth/mobile-token", middleware.RequireDesktop, rootHandler.MobileToken)
	app.Get("/records", recordHandler.List)
	app.Post("/records/:id/open-file", middleware.RequireDesktop, recordHandler.OpenFile)
	app.Post("/records/:id/open-folder", middleware.RequireDesktop, recordHandler.OpenFolder)
	app.Post("/upload", uploadHandler.Upload)
	app.Post("/upload-desktop", middleware.RequireDesktop, uploadHandler.UploadFromDesktop)
	app.Post("/upload-desktop-path", middleware.RequireDesktop, uploadHandler.RegisterDesktopPath)
	app.Get("/download/:id", downloadHandler.Download)
	app.Get("/settings", middleware.RequireDesktop, settingsHandler.Get)
	app.Get("/settings/upload-limit", middleware.RequireDesktop, settingsHandler.GetUploadLimit)
	app.Post("/settings/upload-limit", middleware.RequireDesktop, settingsHandler.SetUploadLimit)
	app.Post("/settings/save-dir", middleware.RequireDesktop, settingsHandler.SetSaveDir)
	app.Post("/settings/open-save-dir", middleware.RequireDesktop, settingsHandler.OpenSaveDir)

	return &testEnv{
		app:      app,
		cfg:      cfg,
		db:       db,
		store:    recordStore,
		sessions: sessions,
		policy:   uploadPolicy,
		hub:      hub,
		saveDir:  saveDir,
	}
}

type requestOpts struct {
	deviceID    string
	deviceName  string
	sessionID   string
	contentType string
}

func (env *testEnv) request(t *testing.T, method, path string, body io.Reader, opts requestOpts) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if opts.contentType != "" {
		req.Header.Set(fiber.HeaderContentType, opts.contentType)
	}
	if opts.deviceID != "" {
		req.Header.Set(middleware.HeaderDeviceID, opts.deviceID)
	}
	if opts.deviceName != "" {
		req.Header.Set(middleware.HeaderDeviceName, opts.deviceName)
	}
	if opts.sessionID != "" {
		req.Header.Set(middleware.HeaderSessionID, opts.sessionID)
	}

	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

// desktopSession resolves a desktop session up front so later requests can
// pass its id explicitly.
func (env *testEnv) desktopSession(t *testing.T) string {
	t.Helper()
	ctx, _ := env.sessions.Resolve("", "desktop", "", true)
	return ctx.SessionID
}

func (env *testEnv) mobileSession(t *testing.T, deviceID, deviceName string) string {
	t.Helper()
	ctx, _ := env.sessions.Resolve("", deviceID, deviceName, false)
	return ctx.SessionID
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding response body: %v", err)
	}
	return body
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

func dataField(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}

func recordPath(id uint64, prefix string) string {
	return prefix + strconv.FormatUint(id, 10)
}

// multipartBody builds a multipart form with one file field per entry.
func multipartBody(t *testing.T, files map[string][]byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed creating form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed writing form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}
