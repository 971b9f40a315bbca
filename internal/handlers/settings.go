package handlers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/config"
	"github.com/landrop/server/internal/policy"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/utils"
)

// SettingsHandler owns the desktop-tunable knobs: the upload size limit and
// the save directory. Changes apply immediately and persist across restarts.
type SettingsHandler struct {
	Config *config.Config
	Policy *policy.UploadPolicy
}

func NewSettingsHandler(cfg *config.Config, uploadPolicy *policy.UploadPolicy) *SettingsHandler {
	return &SettingsHandler{Config: cfg, Policy: uploadPolicy}
}

// Get handles GET /settings.
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	min, max := h.Policy.Bounds()
	current := h.Policy.Get()
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"maxUploadBytes": current,
		"maxUploadHuman": humanize.IBytes(uint64(current)),
		"minLimitBytes":  min,
		"maxLimitBytes":  max,
		"saveDir":        h.Config.SaveDir(),
	})
}

// GetUploadLimit handles GET /settings/upload-limit.
func (h *SettingsHandler) GetUploadLimit(c *fiber.Ctx) error {
	min, max := h.Policy.Bounds()
	current := h.Policy.Get()
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"maxUploadBytes": current,
		"maxUploadHuman": humanize.IBytes(uint64(current)),
		"minLimitBytes":  min,
		"maxLimitBytes":  max,
	})
}

// SetUploadLimit handles POST /settings/upload-limit. The new limit takes
// effect for the next upload; transfers already streaming keep the limit they
// started under.
func (h *SettingsHandler) SetUploadLimit(c *fiber.Ctx) error {
	var body struct {
		MaxBytes int64 `json:"maxBytes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Policy.Set(body.MaxBytes); err != nil {
		if errors.Is(err, policy.ErrOutOfRange) {
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating limit")
	}

	if err := h.Config.PersistSetting("max_upload_bytes", body.MaxBytes); err != nil {
		logger.Warn("settings_persist_failed", map[string]interface{}{
			"key":   "max_upload_bytes",
			"error": err,
		})
	}

	logger.Info("upload_limit_changed", map[string]interface{}{
		"max_bytes": body.MaxBytes,
		"human":     humanize.IBytes(uint64(body.MaxBytes)),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"maxUploadBytes": body.MaxBytes})
}

// SetSaveDir handles POST /settings/save-dir, switching where future uploads
// land. The directory is created if needed; files already saved stay put.
func (h *SettingsHandler) SetSaveDir(c *fiber.Ctx) error {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Path) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path is required")
	}
	dir := filepath.Clean(strings.TrimSpace(body.Path))
	if !filepath.IsAbs(dir) {
		return utils.Error(c, fiber.StatusBadRequest, "path must be absolute")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "directory is not writable")
	}

	h.Config.SetSaveDir(dir)
	if err := h.Config.PersistSetting("save_dir", dir); err != nil {
		logger.Warn("settings_persist_failed", map[string]interface{}{
			"key":   "save_dir",
			"error": err,
		})
	}

	logger.Info("save_dir_changed", map[string]interface{}{"dir": dir})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"saveDir": dir})
}

// OpenSaveDir handles POST /settings/open-save-dir.
func (h *SettingsHandler) OpenSaveDir(c *fiber.Ctx) error {
	dir := h.Config.SaveDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "save directory unavailable")
	}
	if err := OpenWithDefaultApp(dir); err != nil {
		logger.Warn("open_failed", map[string]interface{}{"path": dir, "error": err})
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening folder")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"opened": true})
}
