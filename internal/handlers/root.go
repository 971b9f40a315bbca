package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/guard"
	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/pairtoken"
	"github.com/landrop/server/pkg/utils"
)

// RootHandler implements the page handshake. Rendering the page itself is the
// web layer's job; this handler performs the session/role negotiation a page
// load triggers and reports the state the page needs.
type RootHandler struct {
	Sessions *session.Manager
	BaseURL  string
}

func NewRootHandler(sessions *session.Manager, baseURL string) *RootHandler {
	return &RootHandler{Sessions: sessions, BaseURL: baseURL}
}

func Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "app": guard.AppID})
}

// Index handles GET /. The session middleware has already resolved or minted
// a session; this decides whether the load counts as paired. A desktop open
// (?role=desktop) always does. A mobile open is paired if it carried a live
// session in, or presents a one-time token from the QR URL.
func (h *RootHandler) Index(c *fiber.Ctx) error {
	device := middleware.GetDeviceContext(c)
	if device == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "no session")
	}

	if device.Desktop {
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"role":      "desktop",
			"sessionID": device.SessionID,
		})
	}

	if !middleware.SessionWasCreated(c) {
		return mobileHandshake(c, device)
	}

	token := c.Query("token")
	if token == "" {
		return h.rejectPairing(c, device, "scan the desktop QR code to pair")
	}
	if err := pairtoken.Consume(token); err != nil {
		logger.Warn("pairing_rejected", map[string]interface{}{"error": err, "ip": c.IP()})
		return h.rejectPairing(c, device, pairingErrorMessage(err))
	}
	return mobileHandshake(c, device)
}

// rejectPairing turns an unpaired mobile device away and tears down the
// session the middleware minted for the request. The 403 must not leave a
// replayable session id behind; only token consumption commits one.
func (h *RootHandler) rejectPairing(c *fiber.Ctx, device *session.DeviceContext, message string) error {
	h.Sessions.Remove(device.SessionID)
	middleware.ClearSessionCookie(c)
	return utils.Error(c, fiber.StatusForbidden, message)
}

// MobileToken hands the desktop a fresh one-time pairing token and the URL to
// encode into the QR code.
func (h *RootHandler) MobileToken(c *fiber.Ctx) error {
	token, expiresAt, err := pairtoken.Generate()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating pairing token")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"mobileURL":      fmt.Sprintf("%s/?token=%s", h.BaseURL, token),
		"tokenExpiresAt": expiresAt.Unix(),
	})
}

func mobileHandshake(c *fiber.Ctx, device *session.DeviceContext) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"role":       "mobile",
		"sessionID":  device.SessionID,
		"deviceID":   device.DeviceID,
		"deviceName": device.DeviceName,
	})
}

func pairingErrorMessage(err error) string {
	switch {
	case errors.Is(err, pairtoken.ErrExpired):
		return "pairing token expired, rescan the QR code"
	case errors.Is(err, pairtoken.ErrConsumed):
		return "pairing token already used, rescan the QR code"
	default:
		return "pairing token invalid"
	}
}
