package loader

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

const (
	p2Baud       = 2000000
	p2ResetDelay = 15 * time.Millisecond

	p2CheckCmd = "> \r> Prop_Chk 0 0 0 0\r"
	p2VerTag   = "Prop_Ver "

	// P2Magic is the word sum of every image the P2 boot ROM accepts.
	P2Magic uint32 = 0x706F7250

	p2ChunkChars = 64
	p2ChunkBytes = 48
)

// DetectP2 resets the chip on an open port and asks the boot ROM for its
// version. It returns the revision letter (for example 'G') or 0 when the
// reply is not a P2 banner. The only error is ErrCancelled; transport
// failures count as "no chip" and are logged at debug level.
func DetectP2(ctx context.Context, port serial.Port, opts ...Option) (int, error) {
	c := newConfig(opts)
	return detectP2(ctx, port, &c)
}

func detectP2(ctx context.Context, port serial.Port, c *Config) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	rev, err := p2Check(port, c)
	if err != nil {
		c.debug("p2 detection failed", "port", port.Name(), "err", err)
		return 0, nil
	}
	return rev, nil
}

func p2Check(port serial.Port, c *Config) (int, error) {
	if err := port.SetParams(p2Baud, 8, serial.StopBits1, serial.ParityNone); err != nil {
		return 0, err
	}
	if err := port.HwReset(p2ResetDelay); err != nil {
		return 0, err
	}
	if err := port.WriteString(p2CheckCmd); err != nil {
		return 0, err
	}
	// The first line echoes the prompt.
	if _, err := readLine(port, c.LineTimeout); err != nil {
		return 0, err
	}
	line, err := readLine(port, c.LineTimeout)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(line, p2VerTag) {
		return 0, nil
	}
	if len(line) > len(p2VerTag) {
		return int(line[len(p2VerTag)]), nil
	}
	return models.VersionP2, nil
}

// readLine collects bytes up to CR or an inter-byte timeout. Line feeds are
// dropped so CR and CRLF endings read the same.
func readLine(port serial.Port, timeout time.Duration) (string, error) {
	var sb strings.Builder
	for {
		b, ok, err := port.ReadByteTimeout(timeout)
		if err != nil {
			return sb.String(), err
		}
		if !ok || b == '\r' {
			return sb.String(), nil
		}
		if b == '\n' {
			continue
		}
		sb.WriteByte(b)
	}
}

// wordSum adds image up as little-endian 32-bit words, zero padding the last.
func wordSum(image []byte) uint32 {
	var sum uint32
	for n := 0; n < len(image); n += 4 {
		var w [4]byte
		copy(w[:], image[n:])
		sum += binary.LittleEndian.Uint32(w[:])
	}
	return sum
}

// PrepareP2Image pads image to a word boundary and appends the trailer word
// that brings the word sum to P2Magic.
func PrepareP2Image(image []byte) []byte {
	c := P2Magic - wordSum(image)
	out := make([]byte, (len(image)+7)&^3)
	copy(out, image)
	binary.LittleEndian.PutUint32(out[len(out)-4:], c)
	return out
}

// PrepareFlashImage prepends the flash sub-loader to image. The combined
// length is patched at offset 8 and the negated word sum at offset 4, so the
// words of the result add up to zero.
func PrepareFlashImage(loader, image []byte) ([]byte, error) {
	if len(loader) < 12 {
		return nil, ErrNoFlashLoader
	}
	out := make([]byte, len(loader)+((len(image)+3)&^3))
	copy(out, loader)
	copy(out[len(loader):], image)

	binary.LittleEndian.PutUint32(out[8:], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[4:], 0)
	binary.LittleEndian.PutUint32(out[4:], -wordSum(out))
	return out, nil
}

// P2Loader uploads images to a P2X8C4M64P.
type P2Loader struct {
	port serial.Port
	cfg  Config
}

// NewP2Loader returns a loader bound to port. The port is opened and closed
// by Upload.
func NewP2Loader(port serial.Port, opts ...Option) *P2Loader {
	return &P2Loader{port: port, cfg: newConfig(opts)}
}

// Port returns the transport the loader drives.
func (l *P2Loader) Port() serial.Port { return l.port }

// Upload detects the chip, sends image and waits for the checksum verdict.
// With writeFlash the flash sub-loader is sent in front of the image and
// copies it to flash once started.
func (l *P2Loader) Upload(ctx context.Context, image []byte, writeFlash bool) error {
	if len(image) == 0 {
		return ErrInvalidFirmware
	}
	if err := l.port.Open(); err != nil {
		return err
	}
	defer func() { _ = l.port.Close() }()

	rev, err := detectP2(ctx, l.port, &l.cfg)
	if err != nil {
		return err
	}
	if rev == 0 {
		return fmt.Errorf("%s: %w", l.port.Name(), ErrNotAPropeller)
	}

	kind := KindFor(writeFlash)
	l.cfg.Listener.BufferUpload(kind, image, "binary image")
	l.cfg.info("p2 upload", "port", l.port.Name(), "size", len(image), "target", kind)

	payload := image
	if writeFlash {
		if payload, err = PrepareFlashImage(l.cfg.FlashLoader, image); err != nil {
			return err
		}
	}
	if l.cfg.UseHex {
		err = l.hexUpload(ctx, payload)
	} else {
		err = l.base64Upload(ctx, payload)
	}
	if err != nil {
		return err
	}

	l.cfg.Listener.VerifyRAM()
	if err := awaitAck(l.port, l.cfg.AckTimeout); err != nil {
		return fmt.Errorf("verify ram: %w", err)
	}
	if writeFlash {
		l.cfg.Listener.EEPROMWrite()
	}
	return nil
}

func (l *P2Loader) base64Upload(ctx context.Context, image []byte) error {
	prepared := PrepareP2Image(image)
	encoded := base64.StdEncoding.EncodeToString(prepared)

	if err := l.port.WriteString("> Prop_Txt 0 0 0 0"); err != nil {
		return err
	}
	sent := 0
	for n := 0; n < len(encoded); n += p2ChunkChars {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		end := min(n+p2ChunkChars, len(encoded))
		if err := l.port.WriteString("\r> " + encoded[n:end]); err != nil {
			return err
		}
		sent = min(sent+p2ChunkBytes, len(prepared))
		l.cfg.progress(sent, len(prepared))
	}
	return l.port.WriteString(" ?")
}

// HexUpload sends image with the Prop_Hex framing followed by the checksum
// bytes and the verify request. It does not wait for the verdict.
func HexUpload(ctx context.Context, port serial.Port, image []byte, progress func(sent, total int)) error {
	if err := port.WriteString("> Prop_Hex 0 0 0 0"); err != nil {
		return err
	}
	var sb strings.Builder
	for n := 0; n < len(image); n += 4 {
		if n > 0 && n%64 == 0 {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			sb.WriteString("\r>")
			if err := port.WriteString(sb.String()); err != nil {
				return err
			}
			sb.Reset()
			if progress != nil {
				progress(n, len(image))
			}
		}
		var w [4]byte
		copy(w[:], image[n:])
		fmt.Fprintf(&sb, " %x %x %x %x", w[0], w[1], w[2], w[3])
	}
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], P2Magic-wordSum(image))
	fmt.Fprintf(&sb, " %x %x %x %x ?", c[0], c[1], c[2], c[3])
	if err := port.WriteString(sb.String()); err != nil {
		return err
	}
	if progress != nil {
		progress(len(image), len(image))
	}
	return nil
}

func (l *P2Loader) hexUpload(ctx context.Context, image []byte) error {
	return HexUpload(ctx, l.port, image, l.cfg.progress)
}
