// Package session binds transport connections to device identities. Sessions
// are ephemeral, in-memory and TTL-bound; device identity is asserted by the
// client and only indexed here. Losing a session therefore never loses
// anything a client cannot restore by presenting its device id again.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/landrop/server/internal/models"
)

const (
	maxDeviceIDLen   = 120
	maxDeviceNameLen = 80
)

type Session struct {
	ID         string
	DeviceID   string
	DeviceName string
	Desktop    bool
	CreatedAt  time.Time
	LastSeen   time.Time
}

// DeviceContext is what a request handler gets back from Resolve: the
// identity everything downstream is scoped by.
type DeviceContext struct {
	SessionID  string
	DeviceID   string
	DeviceName string
	Desktop    bool
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	// deviceNames remembers the display name last presented for each mobile
	// device; latestMobile is the device a desktop-initiated send targets.
	deviceNames  map[string]string
	latestMobile string

	now func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		deviceNames: make(map[string]string),
		ttl:         ttl,
		now:         time.Now,
	}
}

// Resolve returns the session named by sessionID if it is still live, and
// otherwise creates a fresh one bound to the client-supplied device identity.
// An expired or unknown session is not an error. Resolve holds the same lock
// as Sweep, so a sweep can never tear a session out from under a request that
// is in the middle of resolving it.
func (m *Manager) Resolve(sessionID, rawDeviceID, rawDeviceName string, desktop bool) (DeviceContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[sessionID]; ok && sessionID != "" {
		if now.Sub(s.LastSeen) <= m.ttl {
			s.LastSeen = now
			if !s.Desktop {
				if rawDeviceName != "" {
					name := normalizeDeviceName(rawDeviceName, s.DeviceID)
					s.DeviceName = name
					m.deviceNames[s.DeviceID] = name
				}
				m.latestMobile = s.DeviceID
			}
			return contextFor(s), false
		}
		delete(m.sessions, sessionID)
	}

	s := m.createLocked(rawDeviceID, rawDeviceName, desktop, now)
	return contextFor(s), true
}

func (m *Manager) createLocked(rawDeviceID, rawDeviceName string, desktop bool, now time.Time) *Session {
	var deviceID, deviceName string
	if desktop {
		deviceID = models.DesktopDeviceID
		deviceName = "Desktop"
	} else {
		deviceID = NormalizeDeviceID(rawDeviceID)
		presented := deviceID != ""
		if !presented {
			// First contact without an identity: mint an anonymous one. The
			// client persists it and presents it from then on.
			deviceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		deviceName = normalizeDeviceName(rawDeviceName, deviceID)
		m.deviceNames[deviceID] = deviceName
		if presented {
			// Anonymous first contacts are not send targets until the client
			// comes back presenting the id it was handed.
			m.latestMobile = deviceID
		}
	}

	s := &Session{
		ID:         strings.ReplaceAll(uuid.New().String(), "-", ""),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Desktop:    desktop,
		CreatedAt:  now,
		LastSeen:   now,
	}
	m.sessions[s.ID] = s
	return s
}

// Remove discards a session immediately. A handshake that rejects the
// session it just minted calls this so the rejected client cannot replay the
// id it was handed.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if s.Desktop || m.latestMobile != s.DeviceID {
		return
	}
	// The device never paired; stop aiming desktop sends at it unless it
	// still holds another live session.
	for _, other := range m.sessions {
		if !other.Desktop && other.DeviceID == s.DeviceID {
			return
		}
	}
	m.latestMobile = ""
}

// Touch refreshes last-seen; returns false for an unknown or expired session.
func (m *Manager) Touch(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	now := m.now()
	if now.Sub(s.LastSeen) > m.ttl {
		delete(m.sessions, sessionID)
		return false
	}
	s.LastSeen = now
	return true
}

// Sweep drops every session idle beyond the TTL and reports how many went.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// LatestMobileDevice is the device a desktop-initiated transfer is aimed at:
// the phone that talked to us most recently.
func (m *Manager) LatestMobileDevice() (deviceID, deviceName string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latestMobile == "" {
		return "", "", false
	}
	return m.latestMobile, m.deviceNames[m.latestMobile], true
}

func contextFor(s *Session) DeviceContext {
	return DeviceContext{
		SessionID:  s.ID,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		Desktop:    s.Desktop,
	}
}

// NormalizeDeviceID caps length and strips anything outside [A-Za-z0-9_-];
// device ids end up in file system paths and SQL filters.
func NormalizeDeviceID(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxDeviceIDLen {
		raw = raw[:maxDeviceIDLen]
	}
	var b strings.Builder
	for _, ch := range raw {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func normalizeDeviceName(raw, deviceID string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		short := deviceID
		if len(short) > 8 {
			short = short[:8]
		}
		return "Phone-" + short
	}
	if len(raw) > maxDeviceNameLen {
		raw = raw[:maxDeviceNameLen]
	}
	return raw
}
