package loader

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

const (
	p1Baud       = 115200
	p1ResetDelay = 90 * time.Millisecond

	p1Seed          = 'P'
	p1Calibration   = 0xF9
	p1HandshakeBits = 250
	p1ClockBytes    = 258
	p1VersionBits   = 8
	p1DrainReads    = 300
	p1DrainTimeout  = 50 * time.Millisecond
)

// P1 boot ROM commands.
const (
	p1CmdRunRAM        = 1
	p1CmdProgramEEPROM = 2
	p1CmdRunEEPROM     = 3
)

// P1Magic is the byte sum (mod 256) every stream built by BuildP1Stream adds
// up to.
const P1Magic = models.P1ImageChecksum

// DetectP1 resets the chip on an open port and runs the LFSR handshake. It
// returns the version byte the chip reports (1 for a P8X32A) or 0 when
// nothing answered correctly. The only error is ErrCancelled; transport
// failures count as "no chip" and are logged at debug level.
func DetectP1(ctx context.Context, port serial.Port, opts ...Option) (int, error) {
	c := newConfig(opts)
	return detectP1(ctx, port, &c)
}

func detectP1(ctx context.Context, port serial.Port, c *Config) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	version, err := p1Handshake(ctx, port, c)
	if err != nil {
		if IsCancelled(err) {
			return 0, ErrCancelled
		}
		c.debug("p1 detection failed", "port", port.Name(), "err", err)
		return 0, nil
	}
	return version, nil
}

func p1Handshake(ctx context.Context, port serial.Port, c *Config) (int, error) {
	if err := port.SetParams(p1Baud, 8, serial.StopBits1, serial.ParityNone); err != nil {
		return 0, err
	}
	if err := port.HwReset(p1ResetDelay); err != nil {
		return 0, err
	}

	lfsr := NewLFSR(p1Seed)
	buf := make([]byte, 0, 1+p1HandshakeBits+p1ClockBytes)
	buf = append(buf, p1Calibration)
	for i := 0; i < p1HandshakeBits; i++ {
		buf = append(buf, lfsr.Next()|0xFE)
	}
	for i := 0; i < p1ClockBytes; i++ {
		buf = append(buf, p1Calibration)
	}
	if err := port.WriteBytes(buf); err != nil {
		return 0, err
	}

	b, ok, err := port.ReadByteTimeout(c.BitTimeout)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no reply: %w", ErrTimeout)
	}
	for i := 0; i < p1HandshakeBits; i++ {
		if i > 0 {
			if i%50 == 0 {
				if err := ctxErr(ctx); err != nil {
					return 0, err
				}
			}
			if b, err = readBit(port, c); err != nil {
				return 0, err
			}
		}
		if b&1 != lfsr.Next() {
			drain(port)
			return 0, fmt.Errorf("handshake mismatch at bit %d: %w", i, ErrNotAPropeller)
		}
	}

	rc := 0
	for i := 0; i < p1VersionBits; i++ {
		b, err := readBit(port, c)
		if err != nil {
			return 0, err
		}
		rc >>= 1
		if b&1 != 0 {
			rc |= 0x80
		}
	}
	return rc, nil
}

// readBit waits for one echo byte, allowing BitRetries timed-out waits.
func readBit(port serial.Port, c *Config) (byte, error) {
	for try := 0; try <= c.BitRetries; try++ {
		b, ok, err := port.ReadByteTimeout(c.BitTimeout)
		if err != nil {
			return 0, err
		}
		if ok {
			return b, nil
		}
	}
	return 0, fmt.Errorf("handshake bit: %w", ErrTimeout)
}

func drain(port serial.Port) {
	for i := 0; i < p1DrainReads; i++ {
		if _, ok, err := port.ReadByteTimeout(p1DrainTimeout); err != nil || !ok {
			return
		}
	}
}

// EncodeLong packs a 32-bit value into the 11 bytes the P1 boot ROM decodes,
// three bits per byte, least significant first.
func EncodeLong(v uint32) []byte {
	out := make([]byte, 0, 11)
	for i := 0; i < 10; i++ {
		out = append(out, byte(0x92|(v&1)|((v&2)<<2)|((v&4)<<4)))
		v >>= 3
	}
	return append(out, byte(0xF2|(v&1)|((v&2)<<2)))
}

// encodeLongs encodes buf (a multiple of 4 bytes) as little-endian longs.
func encodeLongs(buf []byte) []byte {
	out := make([]byte, 0, len(buf)/4*11)
	for i := 0; i+4 <= len(buf); i += 4 {
		out = append(out, EncodeLong(binary.LittleEndian.Uint32(buf[i:]))...)
	}
	return out
}

func pad4(image []byte) []byte {
	out := make([]byte, (len(image)+3)&^3)
	copy(out, image)
	return out
}

// BuildP1Stream frames image for the micro-loader: three little-endian header
// words (length in longs, launch offset, checksum adjustment) followed by the
// image padded to a long boundary. The adjustment makes the byte sum of the
// whole stream equal P1Magic.
func BuildP1Stream(image []byte) []byte {
	body := pad4(image)
	out := make([]byte, 12, 12+len(body))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(body)/4))
	binary.LittleEndian.PutUint32(out[4:], 0)
	out = append(out, body...)

	var sum byte
	for _, b := range out {
		sum += b
	}
	binary.LittleEndian.PutUint32(out[8:], uint32(byte(P1Magic-sum)))
	return out
}

// P1Loader uploads images to a P8X32A.
type P1Loader struct {
	port serial.Port
	cfg  Config
}

// NewP1Loader returns a loader bound to port. The port is opened and closed
// by Upload.
func NewP1Loader(port serial.Port, opts ...Option) *P1Loader {
	return &P1Loader{port: port, cfg: newConfig(opts)}
}

// Port returns the transport the loader drives.
func (l *P1Loader) Port() serial.Port { return l.port }

// Upload detects the chip, streams image and waits for the RAM checksum. With
// writeFlash the image is then written to the EEPROM and verified.
func (l *P1Loader) Upload(ctx context.Context, image []byte, writeFlash bool) error {
	if len(image) == 0 {
		return ErrInvalidFirmware
	}
	if err := l.port.Open(); err != nil {
		return err
	}
	defer func() { _ = l.port.Close() }()

	version, err := detectP1(ctx, l.port, &l.cfg)
	if err != nil {
		return err
	}
	if version != models.VersionP1 {
		return fmt.Errorf("%s: %w", l.port.Name(), ErrNotAPropeller)
	}

	kind := KindFor(writeFlash)
	l.cfg.Listener.BufferUpload(kind, image, "binary image")
	l.cfg.info("p1 upload", "port", l.port.Name(), "size", len(image), "target", kind)

	cmd := uint32(p1CmdRunRAM)
	if writeFlash {
		cmd = p1CmdRunEEPROM
	}
	if err := l.port.WriteBytes(EncodeLong(cmd)); err != nil {
		return err
	}

	stream := BuildP1Stream(image)
	var wire []byte
	if len(l.cfg.MicroLoader) > 0 {
		micro := pad4(l.cfg.MicroLoader)
		boot := EncodeLong(uint32(len(micro) / 4))
		boot = append(boot, encodeLongs(micro)...)
		if err := l.port.WriteBytes(boot); err != nil {
			return err
		}
		wire = stream
	} else {
		wire = encodeLongs(stream)
	}
	if err := l.send(ctx, wire); err != nil {
		return err
	}

	l.cfg.Listener.VerifyRAM()
	if err := l.ack(); err != nil {
		return fmt.Errorf("verify ram: %w", err)
	}
	if !writeFlash {
		return nil
	}

	l.cfg.Listener.EEPROMWrite()
	if err := l.port.WriteBytes(EncodeLong(p1CmdProgramEEPROM)); err != nil {
		return err
	}
	if err := l.ack(); err != nil {
		return fmt.Errorf("eeprom write: %w", err)
	}
	l.cfg.Listener.EEPROMVerify()
	if err := l.ack(); err != nil {
		return fmt.Errorf("eeprom verify: %w", err)
	}
	return nil
}

// send writes wire in chunks, reporting progress between them.
func (l *P1Loader) send(ctx context.Context, wire []byte) error {
	const chunk = 1024
	for sent := 0; sent < len(wire); {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		n := min(chunk, len(wire)-sent)
		if err := l.port.WriteBytes(wire[sent : sent+n]); err != nil {
			return err
		}
		sent += n
		l.cfg.progress(sent, len(wire))
	}
	return nil
}

func (l *P1Loader) ack() error {
	return awaitAck(l.port, l.cfg.AckTimeout)
}

// awaitAck reads the single verify byte: '.' is success.
func awaitAck(port serial.Port, timeout time.Duration) error {
	b, ok, err := port.ReadByteTimeout(timeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTimeout
	}
	if b != '.' {
		return fmt.Errorf("got 0x%02x: %w", b, ErrChecksum)
	}
	return nil
}
