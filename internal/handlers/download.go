package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/utils"
)

// DownloadHandler serves stored files back out. Byte ranges and conditional
// requests are handled by the file sender, so mobile browsers can resume.
type DownloadHandler struct {
	Store *store.RecordStore
}

func NewDownloadHandler(recordStore *store.RecordStore) *DownloadHandler {
	return &DownloadHandler{Store: recordStore}
}

// Download handles GET /download/:id. Mobile devices can only pull records
// scoped to them; the desktop pulls anything.
func (h *DownloadHandler) Download(c *fiber.Ctx) error {
	device := middleware.GetDeviceContext(c)
	if device == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "no session")
	}

	id, err := parseRecordID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid record id")
	}

	record, err := h.Store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "record not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading record")
	}

	if !device.Desktop && record.DeviceID != device.DeviceID {
		// Same answer as an unknown id so other devices' history is not
		// probeable.
		return utils.Error(c, fiber.StatusNotFound, "record not found")
	}

	path, missing, err := h.Store.ResolvePath(id)
	if err != nil {
		if errors.Is(err, store.ErrNoPath) {
			return utils.Error(c, fiber.StatusConflict, "transfer has no stored file")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed resolving file")
	}
	if missing {
		return utils.Error(c, fiber.StatusGone, "file missing")
	}

	if !device.Desktop {
		h.recordPull(record, device)
	}

	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
	return c.SendFile(path)
}

// recordPull appends a to_mobile record for a mobile device pulling a file,
// so the desktop sees the hand-off in its history. Failures only log; the
// download itself must not break on bookkeeping.
func (h *DownloadHandler) recordPull(source models.TransferRecord, device *session.DeviceContext) {
	size := source.FileSize
	if source.FilePath != nil {
		if info, err := os.Stat(*source.FilePath); err == nil {
			size = info.Size()
		}
	}
	pull := &models.TransferRecord{
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
		FileName:   source.FileName,
		FilePath:   source.FilePath,
		FileSize:   size,
		Direction:  models.DirectionToMobile,
		Status:     models.TransferStatusComplete,
	}
	if err := h.Store.Append(pull); err != nil {
		logger.Warn("download_record_failed", map[string]interface{}{
			"source_id": source.ID,
			"error":     err,
		})
	}
}
