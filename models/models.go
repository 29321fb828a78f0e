// Package models defines the data shared between discovery, the loaders and
// the front-ends: target devices, firmware images, firmware packs and the
// JSON descriptor advertised by network bridges.
//
// Firmware packs mirror the shape of the `firmware-pack.json` files consumed by
// the CLI and the web UI.
package models

import (
	"errors"
	"fmt"
)

// Chip generations.
const (
	// VersionUnknown marks a device or image whose generation was not identified.
	VersionUnknown = 0

	// VersionP1 is the P8X32A generation.
	VersionP1 = 1

	// VersionP2 is the P2X8C4M64P generation.
	VersionP2 = 2
)

// P1ImageChecksum is the byte sum (mod 256) of every valid P1 binary image.
const P1ImageChecksum = 0x14

// ErrProtocol reports framing or parse failures on data received from a device
// or a bridge.
var ErrProtocol = errors.New("protocol error")

// ErrInvalidFirmware reports an unreadable or empty firmware image.
var ErrInvalidFirmware = errors.New("invalid firmware")

// Status is the outcome of the last update attempt on a device.
type Status int

const (
	StatusNone Status = iota
	StatusOK
	StatusError
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none", "":
		*s = StatusNone
	case "ok":
		*s = StatusOK
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// FirmwareDescription returns the default description for an image of the
// given generation.
func FirmwareDescription(version int) string {
	if version == VersionP1 {
		return "P8X32A Firmware"
	}
	return "P2X8C4M64P Rev B/C Firmware"
}
