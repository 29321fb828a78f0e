package serial

import (
	"runtime"
	"sync"
	"time"

	bugserial "go.bug.st/serial"
)

// openFunc opens an OS serial port. Swapped in tests.
var openFunc = bugserial.Open

// SerialPort is a Port backed by a local serial line.
type SerialPort struct {
	name string

	mu   sync.Mutex
	port bugserial.Port
}

// NewSerialPort returns a closed port for the given OS name (COM3, /dev/ttyUSB0).
func NewSerialPort(name string) *SerialPort {
	return &SerialPort{name: name}
}

func (p *SerialPort) Name() string        { return p.name }
func (p *SerialPort) Description() string { return p.name }

// lineState is the DTR/RTS level applied with every mode change. Windows
// drivers toggle the lines on their own when they default on, which defeats
// the reset pulse.
func lineState() bool {
	return runtime.GOOS != "windows"
}

// Open opens the port at 115200 8N1.
func (p *SerialPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	state := lineState()
	mode := &bugserial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
		InitialStatusBits: &bugserial.ModemOutputBits{
			RTS: state,
			DTR: state,
		},
	}
	port, err := openFunc(p.name, mode)
	if err != nil {
		return transportErr("open", p.name, err)
	}
	p.port = port
	return nil
}

// Close releases the OS handle. Closing a closed port is a no-op.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return transportErr("close", p.name, err)
}

func (p *SerialPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

func (p *SerialPort) get(op string) (bugserial.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil, &TransportError{Op: op, Port: p.name, Err: ErrNotOpen}
	}
	return p.port, nil
}

// SetParams changes the frame format and reapplies the platform line state.
func (p *SerialPort) SetParams(baud, dataBits int, stopBits StopBits, parity Parity) error {
	port, err := p.get("set params")
	if err != nil {
		return err
	}
	mode := &bugserial.Mode{
		BaudRate: baud,
		DataBits: dataBits,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	}
	switch parity {
	case ParityOdd:
		mode.Parity = bugserial.OddParity
	case ParityEven:
		mode.Parity = bugserial.EvenParity
	}
	if stopBits == StopBits2 {
		mode.StopBits = bugserial.TwoStopBits
	}
	if err := port.SetMode(mode); err != nil {
		return transportErr("set params", p.name, err)
	}
	state := lineState()
	if err := port.SetRTS(state); err != nil {
		return transportErr("set params", p.name, err)
	}
	if err := port.SetDTR(state); err != nil {
		return transportErr("set params", p.name, err)
	}
	return nil
}

// HwReset pulses DTR and RTS for 5ms, waits delay and purges both buffers.
func (p *SerialPort) HwReset(delay time.Duration) error {
	port, err := p.get("reset")
	if err != nil {
		return err
	}
	if err := port.SetDTR(true); err != nil {
		return transportErr("reset", p.name, err)
	}
	if err := port.SetRTS(true); err != nil {
		return transportErr("reset", p.name, err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := port.SetDTR(false); err != nil {
		return transportErr("reset", p.name, err)
	}
	if err := port.SetRTS(false); err != nil {
		return transportErr("reset", p.name, err)
	}
	time.Sleep(delay)
	if err := port.ResetOutputBuffer(); err != nil {
		return transportErr("reset", p.name, err)
	}
	return transportErr("reset", p.name, port.ResetInputBuffer())
}

// ReadByteTimeout waits up to timeout for a single byte.
func (p *SerialPort) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	port, err := p.get("read")
	if err != nil {
		return 0, false, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return 0, false, transportErr("read", p.name, err)
	}
	var buf [1]byte
	n, err := port.Read(buf[:])
	if err != nil {
		return 0, false, transportErr("read", p.name, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

func (p *SerialPort) WriteBytes(buf []byte) error {
	port, err := p.get("write")
	if err != nil {
		return err
	}
	for len(buf) > 0 {
		n, err := port.Write(buf)
		if err != nil {
			return transportErr("write", p.name, err)
		}
		buf = buf[n:]
	}
	return nil
}

func (p *SerialPort) WriteString(s string) error {
	return p.WriteBytes([]byte(s))
}

func (p *SerialPort) SetRTS(enable bool) error {
	port, err := p.get("set rts")
	if err != nil {
		return err
	}
	return transportErr("set rts", p.name, port.SetRTS(enable))
}

func (p *SerialPort) SetDTR(enable bool) error {
	port, err := p.get("set dtr")
	if err != nil {
		return err
	}
	return transportErr("set dtr", p.name, port.SetDTR(enable))
}
