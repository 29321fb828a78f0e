package loader

import (
	"context"
	"errors"

	"github.com/CK6170/propeller-loader/models"
)

// Error kinds reported by detection and upload. Transport failures are
// reported as *serial.TransportError.
var (
	// ErrTimeout means an expected response did not arrive in time.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol means a framing or parse failure.
	ErrProtocol = models.ErrProtocol

	// ErrChecksum means the chip answered the verify request with something
	// other than '.'.
	ErrChecksum = errors.New("checksum error")

	// ErrNotAPropeller means detection did not identify a chip.
	ErrNotAPropeller = errors.New("no propeller chip")

	// ErrCancelled is reported when the caller's context ends a run.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidFirmware means the image is empty or unreadable.
	ErrInvalidFirmware = models.ErrInvalidFirmware

	// ErrNoFlashLoader means a P2 flash write was requested without a
	// usable sub-loader blob.
	ErrNoFlashLoader = errors.New("p2 flash loader not configured")
)

// IsCancelled reports whether err ends a run because the caller asked so.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// ctxErr maps a finished context to ErrCancelled.
func ctxErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}
