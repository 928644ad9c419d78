package server

import (
	"time"

	"github.com/CK6170/Intellispec-go/models"
)

// APIError is the error envelope returned by JSON endpoints. Code is a
// stable machine-readable kind (busy, not_connected, connection, io,
// bad_request, stopped, internal).
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// PortsResponse lists the serial ports found on this machine. LastPort is the
// port the previous successful connect used, if any.
type PortsResponse struct {
	Ports    []models.PortInfo `json:"ports"`
	LastPort string            `json:"lastPort,omitempty"`
}

// ConnectRequest selects the serial port. An empty port falls back to the
// last working port, then to the configured one.
type ConnectRequest struct {
	Port string `json:"port"`
}
