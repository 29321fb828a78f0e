package serial

import (
	"context"
	"fmt"
	"io"
	"time"

	goserial "github.com/tarm/serial"
)

// Monitor copies everything the chip prints on a local serial port to w until
// ctx is cancelled. It is used as a terminal right after an upload, when the
// freshly started firmware begins talking.
func Monitor(ctx context.Context, name string, baud int, w io.Writer) error {
	cfg := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	}
	sp, err := goserial.OpenPort(cfg)
	if err != nil {
		return transportErr("open", name, err)
	}
	defer func() { _ = sp.Close() }()

	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := sp.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("monitor %s: %w", name, werr)
			}
		}
		if err != nil && err != io.EOF {
			return transportErr("read", name, err)
		}
	}
}
