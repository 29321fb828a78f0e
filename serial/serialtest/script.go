// Package serialtest provides an in-memory serial.Port that replays scripted
// responses, for tests of the loaders and of discovery.
package serialtest

import (
	"bytes"
	"sync"
	"time"

	"github.com/CK6170/propeller-loader/serial"
)

// ReplyFunc is called with every write and returns the bytes the device sends
// back in response.
type ReplyFunc func(written []byte) []byte

// ScriptPort records writes and serves queued bytes to reads. Reads on an
// empty queue time out immediately.
type ScriptPort struct {
	PortName string

	// Reply, when set, is consulted on every write.
	Reply ReplyFunc

	// OpenErr, when set, is returned by Open.
	OpenErr error
	// ReadErr, when set, is returned by every read.
	ReadErr error

	mu      sync.Mutex
	open    bool
	rx      []byte
	written bytes.Buffer

	Resets   int
	Baud     int
	Opens    int
	Closes   int
	Timeouts []time.Duration
}

// New returns a ScriptPort named name with resp already queued.
func New(name string, resp ...[]byte) *ScriptPort {
	p := &ScriptPort{PortName: name}
	for _, r := range resp {
		p.rx = append(p.rx, r...)
	}
	return p
}

// Queue appends bytes the device will send.
func (p *ScriptPort) Queue(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, b...)
}

// Written returns a copy of every byte written so far.
func (p *ScriptPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *ScriptPort) Name() string        { return p.PortName }
func (p *ScriptPort) Description() string { return p.PortName }

func (p *ScriptPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return &serial.TransportError{Op: "open", Port: p.PortName, Err: p.OpenErr}
	}
	p.open = true
	p.Opens++
	return nil
}

func (p *ScriptPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		p.Closes++
	}
	p.open = false
	return nil
}

func (p *ScriptPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *ScriptPort) SetParams(baud, dataBits int, stopBits serial.StopBits, parity serial.Parity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Baud = baud
	return nil
}

// HwReset drops pending input, like a purge after a real reset.
func (p *ScriptPort) HwReset(delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Resets++
	p.rx = nil
	return nil
}

func (p *ScriptPort) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Timeouts = append(p.Timeouts, timeout)
	if p.ReadErr != nil {
		return 0, false, &serial.TransportError{Op: "read", Port: p.PortName, Err: p.ReadErr}
	}
	if len(p.rx) == 0 {
		return 0, false, nil
	}
	b := p.rx[0]
	p.rx = p.rx[1:]
	return b, true, nil
}

func (p *ScriptPort) WriteBytes(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return &serial.TransportError{Op: "write", Port: p.PortName, Err: serial.ErrNotOpen}
	}
	p.written.Write(buf)
	if p.Reply != nil {
		p.rx = append(p.rx, p.Reply(append([]byte(nil), buf...))...)
	}
	return nil
}

func (p *ScriptPort) WriteString(s string) error {
	return p.WriteBytes([]byte(s))
}

func (p *ScriptPort) SetRTS(enable bool) error { return nil }
func (p *ScriptPort) SetDTR(enable bool) error { return nil }

var _ serial.Port = (*ScriptPort)(nil)
