package server

import (
	"time"

	"github.com/CK6170/propeller-loader/shell"
)

// APIError is the canonical error envelope returned by JSON endpoints.
// The frontend expects the `error` field and will surface it to the user.
type APIError struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// UploadResponse is returned by /api/firmware once the file is loaded.
type UploadResponse struct {
	UploadID string      `json:"uploadId"`
	Filename string      `json:"filename"`
	Kind     string      `json:"kind"` // "pack" or "binary"
	State    shell.State `json:"state"`
}

// SelectFirmwareRequest picks an entry of the loaded firmware pack.
type SelectFirmwareRequest struct {
	Index int `json:"index"`
}

// DeviceSelectRequest identifies a device by location and sets its selection.
// Serial devices use SerialPort; bridges use IP and MAC.
type DeviceSelectRequest struct {
	SerialPort string `json:"serialPort,omitempty"`
	IP         string `json:"ip,omitempty"`
	MAC        string `json:"mac,omitempty"`
	Selected   bool   `json:"selected"`
}

// UpdateStartRequest starts an update run. WriteFlash defaults to the server
// setting when omitted.
type UpdateStartRequest struct {
	WriteFlash *bool `json:"writeFlash,omitempty"`
}

// UpdateStartResponse echoes the chosen target.
type UpdateStartResponse struct {
	OK         bool `json:"ok"`
	WriteFlash bool `json:"writeFlash"`
}
