package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/pkg/utils"
)

const (
	// SessionCookie carries the session id. HTTP-only; a session id never
	// travels in a query parameter.
	SessionCookie = "landrop_session"

	// Device identity headers, presented by the client on every request so
	// an expired session can be re-bound without losing identity.
	HeaderDeviceID   = "X-Device-Id"
	HeaderDeviceName = "X-Device-Name"
	HeaderSessionID  = "X-Session-Id"

	// DeviceContextKey is the locals key the resolved context is stored
	// under; the websocket handler reads it off the upgraded connection.
	DeviceContextKey = "deviceContext"
	// SessionCreatedKey reports whether the request's session was minted by
	// this request rather than carried in.
	SessionCreatedKey = "sessionCreated"
)

type SessionMiddleware struct {
	Sessions *session.Manager
}

func NewSessionMiddleware(sessions *session.Manager) *SessionMiddleware {
	return &SessionMiddleware{Sessions: sessions}
}

// Resolve binds the request to a device context, minting a fresh session when
// the presented one is missing or expired. Expiry is silent: the client's
// device id re-binds and the new session id goes back out as a cookie.
func (m *SessionMiddleware) Resolve(c *fiber.Ctx) error {
	sessionID := c.Cookies(SessionCookie)
	if sessionID == "" {
		sessionID = c.Get(HeaderSessionID)
	}

	deviceID := session.NormalizeDeviceID(c.Get(HeaderDeviceID))
	deviceName := c.Get(HeaderDeviceName)
	desktop := deviceID == models.DesktopDeviceID || c.Query("role") == "desktop"

	ctx, created := m.Sessions.Resolve(sessionID, deviceID, deviceName, desktop)
	if created {
		SetSessionCookie(c, ctx.SessionID)
	}

	c.Locals(DeviceContextKey, &ctx)
	c.Locals(SessionCreatedKey, created)
	return c.Next()
}

// RequireDesktop guards endpoints only the desktop may call: path-based
// uploads, opening files and folders, and settings mutations.
func RequireDesktop(c *fiber.Ctx) error {
	ctx := GetDeviceContext(c)
	if ctx == nil || !ctx.Desktop {
		return utils.Error(c, fiber.StatusForbidden, "desktop only")
	}
	return c.Next()
}

// SessionWasCreated reports whether the current request minted its session.
func SessionWasCreated(c *fiber.Ctx) bool {
	created, ok := c.Locals(SessionCreatedKey).(bool)
	return ok && created
}

func GetDeviceContext(c *fiber.Ctx) *session.DeviceContext {
	value := c.Locals(DeviceContextKey)
	if value == nil {
		return nil
	}
	ctx, ok := value.(*session.DeviceContext)
	if !ok {
		return nil
	}
	return ctx
}

func SetSessionCookie(c *fiber.Ctx, sessionID string) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

// ClearSessionCookie expires the session cookie, overriding any value set
// earlier in the same response.
func ClearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}
