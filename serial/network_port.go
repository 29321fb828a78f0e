package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Well known bridge ports.
const (
	HTTPPort   = 80
	TelnetPort = 23
)

// NetworkPort is a Port backed by a serial-over-IP bridge: bytes travel over a
// TCP connection to the bridge's telnet port, while baud and reset go through
// its HTTP control API.
type NetworkPort struct {
	name     string
	ip       net.IP
	mac      string
	resetPin string

	dataPort       int
	httpPort       int
	connectTimeout time.Duration
	client         *http.Client

	mu   sync.Mutex
	conn net.Conn
}

// NetworkOption configures a NetworkPort.
type NetworkOption func(*NetworkPort)

// WithDataPort overrides the TCP data port (default 23).
func WithDataPort(port int) NetworkOption {
	return func(p *NetworkPort) { p.dataPort = port }
}

// WithHTTPPort overrides the control port (default 80).
func WithHTTPPort(port int) NetworkOption {
	return func(p *NetworkPort) { p.httpPort = port }
}

// WithConnectTimeout bounds the TCP connect.
func WithConnectTimeout(d time.Duration) NetworkOption {
	return func(p *NetworkPort) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithHTTPClient replaces the control channel client.
func WithHTTPClient(c *http.Client) NetworkOption {
	return func(p *NetworkPort) {
		if c != nil {
			p.client = c
		}
	}
}

// NewNetworkPort returns a closed port for the bridge at ip.
func NewNetworkPort(name string, ip net.IP, mac, resetPin string, opts ...NetworkOption) *NetworkPort {
	p := &NetworkPort{
		name:           name,
		ip:             ip,
		mac:            mac,
		resetPin:       resetPin,
		dataPort:       TelnetPort,
		httpPort:       HTTPPort,
		connectTimeout: 3 * time.Second,
		client:         &http.Client{Timeout: 3 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NetworkPort) Name() string { return p.name }

func (p *NetworkPort) Description() string {
	if p.name == "" {
		return p.ip.String()
	}
	return fmt.Sprintf("%s (%s)", p.name, p.ip)
}

// IP returns the bridge address.
func (p *NetworkPort) IP() net.IP { return p.ip }

// MAC returns the bridge hardware address.
func (p *NetworkPort) MAC() string { return p.mac }

func (p *NetworkPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(p.ip.String(), strconv.Itoa(p.dataPort))
	conn, err := net.DialTimeout("tcp", addr, p.connectTimeout)
	if err != nil {
		return transportErr("open", p.Description(), err)
	}
	p.conn = conn
	return nil
}

func (p *NetworkPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return transportErr("close", p.Description(), err)
}

func (p *NetworkPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *NetworkPort) get(op string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, &TransportError{Op: op, Port: p.Description(), Err: ErrNotOpen}
	}
	return p.conn, nil
}

// control issues a POST on the bridge HTTP API.
func (p *NetworkPort) control(op, path string, query url.Values) error {
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(p.ip.String(), strconv.Itoa(p.httpPort)),
		Path:     path,
		RawQuery: query.Encode(),
	}
	timeout := p.client.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return transportErr(op, p.Description(), err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return transportErr(op, p.Description(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode/100 != 2 {
		return &TransportError{Op: op, Port: p.Description(), Err: fmt.Errorf("bridge returned %s", resp.Status)}
	}
	return nil
}

// SetParams sets the bridge baud rate. The bridge always frames 8N1.
func (p *NetworkPort) SetParams(baud, dataBits int, stopBits StopBits, parity Parity) error {
	if _, err := p.get("set params"); err != nil {
		return err
	}
	return p.control("set params", "/wx/setting", url.Values{
		"name":  {"baud-rate"},
		"value": {strconv.Itoa(baud)},
	})
}

// HwReset asks the bridge to pulse the configured reset pin, waits delay and
// drops whatever the chip sent in the meantime.
func (p *NetworkPort) HwReset(delay time.Duration) error {
	conn, err := p.get("reset")
	if err != nil {
		return err
	}
	q := url.Values{}
	if p.resetPin != "" {
		q.Set("reset-pin", p.resetPin)
	}
	if err := p.control("reset", "/propeller/reset", q); err != nil {
		return err
	}
	time.Sleep(delay)
	return p.purge(conn)
}

func (p *NetworkPort) purge(conn net.Conn) error {
	buf := make([]byte, 512)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return transportErr("reset", p.Description(), err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			continue
		}
		if isTimeout(err) || err == nil {
			return nil
		}
		return transportErr("reset", p.Description(), err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (p *NetworkPort) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	conn, err := p.get("read")
	if err != nil {
		return 0, false, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false, transportErr("read", p.Description(), err)
	}
	var buf [1]byte
	n, err := conn.Read(buf[:])
	if n == 1 {
		return buf[0], true, nil
	}
	if err == nil || isTimeout(err) {
		return 0, false, nil
	}
	return 0, false, transportErr("read", p.Description(), err)
}

func (p *NetworkPort) WriteBytes(buf []byte) error {
	conn, err := p.get("write")
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return transportErr("write", p.Description(), err)
	}
	_, err = conn.Write(buf)
	return transportErr("write", p.Description(), err)
}

func (p *NetworkPort) WriteString(s string) error {
	return p.WriteBytes([]byte(s))
}

// SetRTS is a no-op: the bridge owns the modem lines.
func (p *NetworkPort) SetRTS(enable bool) error { return nil }

// SetDTR is a no-op: the bridge owns the modem lines.
func (p *NetworkPort) SetDTR(enable bool) error { return nil }
