package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/config"
	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/policy"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/internal/transfer"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/utils"
)

// lengthSlack allows for multipart framing overhead when pre-checking the
// declared request size against the upload limit.
const lengthSlack = 1 << 20

// UploadHandler streams incoming files to disk. Request bodies are consumed
// chunk by chunk, so memory use stays flat regardless of file size.
type UploadHandler struct {
	Config   *config.Config
	Store    *store.RecordStore
	Policy   *policy.UploadPolicy
	Sessions *session.Manager
}

func NewUploadHandler(cfg *config.Config, recordStore *store.RecordStore, uploadPolicy *policy.UploadPolicy, sessions *session.Manager) *UploadHandler {
	return &UploadHandler{Config: cfg, Store: recordStore, Policy: uploadPolicy, Sessions: sessions}
}

// Upload handles POST /upload from a mobile device. Each file part becomes
// its own transfer record so partial batch failures stay visible.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	device := middleware.GetDeviceContext(c)
	if device == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "no session")
	}
	return h.receive(c, device.DeviceID, device.DeviceName)
}

// UploadFromDesktop handles desktop multipart uploads destined for the most
// recently paired mobile device.
func (h *UploadHandler) UploadFromDesktop(c *fiber.Ctx) error {
	deviceID, deviceName, ok := h.Sessions.LatestMobileDevice()
	if !ok {
		return utils.Error(c, fiber.StatusConflict, "no mobile device has paired yet")
	}
	return h.receiveOutbound(c, deviceID, deviceName)
}

// RegisterDesktopPath handles POST /upload-desktop-path. The desktop shares a
// file it already has on disk, so nothing is copied; the record points at the
// original path.
func (h *UploadHandler) RegisterDesktopPath(c *fiber.Ctx) error {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Path) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path is required")
	}
	path := strings.TrimSpace(body.Path)

	size, err := transfer.ValidateSourcePath(path)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrNotAbsolute):
			return utils.Error(c, fiber.StatusBadRequest, "path must be absolute")
		case errors.Is(err, transfer.ErrSourceMissing):
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		case errors.Is(err, transfer.ErrNotRegular):
			return utils.Error(c, fiber.StatusBadRequest, "path is not a regular file")
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed reading file")
		}
	}

	deviceID, deviceName, ok := h.Sessions.LatestMobileDevice()
	if !ok {
		return utils.Error(c, fiber.StatusConflict, "no mobile device has paired yet")
	}

	record := &models.TransferRecord{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		FileName:   filepath.Base(path),
		FilePath:   &path,
		FileSize:   size,
		Direction:  models.DirectionToMobile,
		Status:     models.TransferStatusComplete,
	}
	if err := h.Store.Append(record); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed recording transfer")
	}

	logger.InfoWithDevice(deviceID, "desktop_path_shared", map[string]interface{}{
		"file": record.FileName,
		"size": size,
	})
	return utils.Success(c, fiber.StatusCreated, store.PublicView(*record, true))
}

// receive streams every file part of a mobile upload to the save directory,
// attributing records to the uploading device.
func (h *UploadHandler) receive(c *fiber.Ctx, deviceID, deviceName string) error {
	return h.stream(c, deviceID, deviceName, models.DirectionToDesktop)
}

func (h *UploadHandler) receiveOutbound(c *fiber.Ctx, deviceID, deviceName string) error {
	return h.stream(c, deviceID, deviceName, models.DirectionToMobile)
}

func (h *UploadHandler) stream(c *fiber.Ctx, deviceID, deviceName string, direction models.TransferDirection) error {
	maxBytes := h.Policy.Get()

	if length := int64(c.Context().Request.Header.ContentLength()); length > maxBytes+lengthSlack {
		return utils.Error(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds the %s limit", humanize.IBytes(uint64(maxBytes))))
	}

	mediaType, params, err := mime.ParseMediaType(c.Get(fiber.HeaderContentType))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return utils.Error(c, fiber.StatusBadRequest, "expected multipart/form-data")
	}

	reader := multipart.NewReader(c.Context().RequestBodyStream(), params["boundary"])
	saveDir := h.Config.SaveDir()

	var views []models.PublicView
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "malformed multipart body")
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		view, err := h.savePart(c, part, saveDir, deviceID, deviceName, direction, maxBytes)
		part.Close()
		if err != nil {
			return err
		}
		views = append(views, view)
	}

	if len(views) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no file parts in request")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"records": views})
}

// savePart runs one file part through the record lifecycle: a pending record
// first, then the byte stream, then complete or failed. The pending record is
// what lets watchers see an in-flight transfer.
func (h *UploadHandler) savePart(c *fiber.Ctx, part *multipart.Part, saveDir, deviceID, deviceName string, direction models.TransferDirection, maxBytes int64) (models.PublicView, error) {
	fileName := transfer.SanitizeFileName(part.FileName())

	record := &models.TransferRecord{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		FileName:   fileName,
		Direction:  direction,
		Status:     models.TransferStatusPending,
	}
	if err := h.Store.Append(record); err != nil {
		return models.PublicView{}, utils.Error(c, fiber.StatusInternalServerError, "failed recording transfer")
	}

	path, storedName, size, err := transfer.SaveStream(saveDir, fileName, part, maxBytes)
	if err != nil {
		if updErr := h.Store.UpdateStatus(record.ID, models.TransferStatusFailed); updErr != nil {
			logger.Warn("record_fail_mark_failed", map[string]interface{}{"id": record.ID, "error": updErr})
		}
		if errors.Is(err, transfer.ErrSizeLimit) {
			return models.PublicView{}, utils.Error(c, fiber.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s exceeds the %s limit", fileName, humanize.IBytes(uint64(maxBytes))))
		}
		logger.Error("upload_stream_failed", map[string]interface{}{"file": fileName, "error": err})
		return models.PublicView{}, utils.Error(c, fiber.StatusInternalServerError, "failed saving file")
	}

	if err := h.Store.Complete(record.ID, path, storedName, size); err != nil {
		os.Remove(path)
		if updErr := h.Store.UpdateStatus(record.ID, models.TransferStatusFailed); updErr != nil {
			logger.Warn("record_fail_mark_failed", map[string]interface{}{"id": record.ID, "error": updErr})
		}
		return models.PublicView{}, utils.Error(c, fiber.StatusInternalServerError, "failed recording transfer")
	}

	record.FilePath = &path
	record.FileName = storedName
	record.FileSize = size
	record.Status = models.TransferStatusComplete

	logger.InfoWithDevice(deviceID, "upload_complete", map[string]interface{}{
		"file": storedName,
		"size": size,
	})
	return store.PublicView(*record, true), nil
}
