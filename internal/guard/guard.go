// Package guard decides, before the listener binds, whether another landrop
// instance already serves the configured port. Port stability matters: the
// sync channel and every client hardcode the expected port, so the guard
// never falls back to a different one.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// AppID is the identity a compatible instance reports from /health.
const AppID = "landrop"

const (
	dialTimeout  = 500 * time.Millisecond
	probeTimeout = 2 * time.Second
)

// ErrPortUnavailable means the port is held by something that is not a
// compatible landrop instance. Fatal at startup; probing further or picking
// another port would break the clients' port expectations.
var ErrPortUnavailable = errors.New("port unavailable")

type Status int

const (
	// PortFree: nothing listens on the port; proceed to bind.
	PortFree Status = iota
	// AlreadyRunning: a compatible instance answered the probe. The caller
	// opens the existing instance's page and exits cleanly.
	AlreadyRunning
)

type healthPayload struct {
	Status string `json:"status"`
	App    string `json:"app"`
}

// Check probes 127.0.0.1:port. The timeouts are short on purpose: this is a
// fast failover decision at launch, not correctness-critical I/O.
func Check(port int) (Status, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return PortFree, nil
	}
	conn.Close()

	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return 0, fmt.Errorf("%w: occupant on port %d did not answer health probe", ErrPortUnavailable, port)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: occupant on port %d returned status %d", ErrPortUnavailable, port, resp.StatusCode)
	}

	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.App != AppID || payload.Status != "ok" {
		return 0, fmt.Errorf("%w: occupant on port %d is not a compatible instance", ErrPortUnavailable, port)
	}

	return AlreadyRunning, nil
}
