// Package serial is the byte transport used by discovery and the loaders.
//
// A Port is either a local serial line (SerialPort) or a serial-over-IP
// bridge (NetworkPort). Loaders only see the Port interface.
package serial

import (
	"errors"
	"fmt"
	"time"
)

// Parity of a serial frame.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// StopBits of a serial frame.
type StopBits int

const (
	StopBits1 StopBits = iota
	StopBits2
)

// Port is the capability set shared by local and network transports.
//
// ReadByteTimeout reports ok=false on timeout; a timeout is never an error.
type Port interface {
	Name() string
	Description() string

	Open() error
	Close() error
	IsOpen() bool

	SetParams(baud, dataBits int, stopBits StopBits, parity Parity) error
	HwReset(delay time.Duration) error

	ReadByteTimeout(timeout time.Duration) (b byte, ok bool, err error)
	WriteBytes(buf []byte) error
	WriteString(s string) error

	SetRTS(enable bool) error
	SetDTR(enable bool) error
}

// ErrNotOpen is wrapped by TransportError when a closed port is used.
var ErrNotOpen = errors.New("port not open")

// TransportError is the single error kind for open/close/read/write failures.
type TransportError struct {
	Op   string
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: transport error", e.Op, e.Port)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op, port string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Port: port, Err: err}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Equal reports whether two ports address the same transport: the same port
// name for serial lines, the same IP and MAC for bridges.
func Equal(a, b Port) bool {
	switch pa := a.(type) {
	case *SerialPort:
		pb, ok := b.(*SerialPort)
		return ok && pa.name == pb.name
	case *NetworkPort:
		pb, ok := b.(*NetworkPort)
		return ok && pa.ip.Equal(pb.ip) && pa.mac == pb.mac
	}
	return a == b
}
