// Package loader detects Propeller chips and uploads firmware images to them.
//
// P1 (P8X32A) chips are found with the boot ROM's LFSR handshake at 115200
// baud; P2 (P2X8C4M64P) chips answer a Prop_Chk text command at 2 Mbaud.
// Both loaders open the port, detect, send, wait for the '.' verify byte and
// close the port on every path.
package loader

import (
	"context"
	"fmt"
	"unicode"

	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

// Loader uploads an image to the chip behind one port.
type Loader interface {
	Upload(ctx context.Context, image []byte, writeFlash bool) error
	Port() serial.Port
}

var (
	_ Loader = (*P1Loader)(nil)
	_ Loader = (*P2Loader)(nil)
)

// New returns the loader for a chip generation (models.VersionP1 or
// models.VersionP2).
func New(version int, port serial.Port, opts ...Option) (Loader, error) {
	switch version {
	case models.VersionP1:
		return NewP1Loader(port, opts...), nil
	case models.VersionP2:
		return NewP2Loader(port, opts...), nil
	}
	return nil, fmt.Errorf("unsupported chip version %d", version)
}

// VersionText names the chip behind a detection result: the P1 version byte
// or the P2 revision letter. 0 means nothing was found.
func VersionText(rc int) string {
	switch {
	case rc == 0:
		return ""
	case rc == 1:
		return "P8X32A"
	case rc == 'G':
		return "P2X8C4M64P Rev B/C"
	case unicode.IsLetter(rune(rc)) || unicode.IsDigit(rune(rc)):
		return fmt.Sprintf("Unknown version '%c'", rc)
	}
	return fmt.Sprintf("Unknown version %d", rc)
}
