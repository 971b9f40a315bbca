package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/utils"
)

// RecordHandler exposes transfer history and the desktop-side file actions.
type RecordHandler struct {
	Store *store.RecordStore
}

func NewRecordHandler(recordStore *store.RecordStore) *RecordHandler {
	return &RecordHandler{Store: recordStore}
}

// List handles GET /records. The desktop sees all devices' history with file
// paths; a mobile device sees only its own records, paths withheld.
func (h *RecordHandler) List(c *fiber.Ctx) error {
	device := middleware.GetDeviceContext(c)
	if device == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "no session")
	}

	scope := store.DeviceScope(device.DeviceID)
	if device.Desktop {
		scope = store.DesktopScope()
	}

	records, err := h.Store.List(scope)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading records")
	}

	views := make([]models.PublicView, 0, len(records))
	for _, record := range records {
		views = append(views, store.PublicView(record, device.Desktop))
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"records": views})
}

// OpenFile handles POST /records/:id/open-file, launching the file with the
// desktop's default application.
func (h *RecordHandler) OpenFile(c *fiber.Ctx) error {
	return h.open(c, false)
}

// OpenFolder handles POST /records/:id/open-folder, revealing the file's
// directory in the desktop's file manager.
func (h *RecordHandler) OpenFolder(c *fiber.Ctx) error {
	return h.open(c, true)
}

func (h *RecordHandler) open(c *fiber.Ctx, folder bool) error {
	id, err := parseRecordID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid record id")
	}

	path, missing, err := h.Store.ResolvePath(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.Error(c, fiber.StatusNotFound, "record not found")
		case errors.Is(err, store.ErrNoPath):
			return utils.Error(c, fiber.StatusConflict, "transfer has no stored file")
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed resolving file")
		}
	}
	if missing {
		return utils.Error(c, fiber.StatusGone, "file missing")
	}

	if folder {
		err = RevealInFolder(path)
	} else {
		err = OpenWithDefaultApp(path)
	}
	if err != nil {
		logger.Warn("open_failed", map[string]interface{}{"path": path, "error": err})
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening file")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"opened": true})
}
