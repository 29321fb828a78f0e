package discovery

import (
	"net"
	"time"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPortLister replaces the OS serial port enumeration.
func WithPortLister(list func() []string) Option {
	return func(e *Engine) {
		if list != nil {
			e.listPorts = list
		}
	}
}

// WithSerialPortFactory replaces how local ports are constructed.
func WithSerialPortFactory(f func(name string) serial.Port) Option {
	return func(e *Engine) {
		if f != nil {
			e.serialPort = f
		}
	}
}

// WithNetworkPortFactory replaces how bridge ports are constructed.
func WithNetworkPortFactory(f func(d *models.DeviceDescriptor, ip net.IP) serial.Port) Option {
	return func(e *Engine) {
		if f != nil {
			e.networkPort = f
		}
	}
}

// WithBroadcastAddrs replaces the interface scan that yields the broadcast
// addresses to probe.
func WithBroadcastAddrs(f func() ([]net.IP, error)) Option {
	return func(e *Engine) {
		if f != nil {
			e.broadcasts = f
		}
	}
}

// WithListenPort sets the local UDP port bound for each probe (default 32420).
// 0 picks a free port.
func WithListenPort(port int) Option {
	return func(e *Engine) {
		e.listenPort = port
	}
}

// WithDiscoverPort sets the UDP port requests are sent to (default 32420).
func WithDiscoverPort(port int) Option {
	return func(e *Engine) {
		if port > 0 {
			e.discoverPort = port
		}
	}
}

// WithAttempts sets how many requests are sent per broadcast address.
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithReplyTimeout sets how long each request waits for replies.
func WithReplyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.replyTimeout = d
		}
	}
}

// WithConcurrency bounds how many serial ports are probed at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLoaderOptions passes detection tuning to the loaders.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(e *Engine) {
		e.loaderOpts = append(e.loaderOpts, opts...)
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l loader.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
