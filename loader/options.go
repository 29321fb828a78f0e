package loader

import "time"

// Logger is an optional sink for diagnostics.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Config holds the tuning shared by the P1 and P2 loaders.
type Config struct {
	// Listener receives upload phases (optional).
	Listener Listener

	// Logger is used for diagnostics (optional).
	Logger Logger

	// BitTimeout bounds each P1 handshake bit.
	BitTimeout time.Duration
	// BitRetries is the number of timed-out waits allowed per P1 handshake bit.
	BitRetries int
	// LineTimeout is the P2 inter-byte timeout while reading a reply line.
	LineTimeout time.Duration
	// AckTimeout bounds the wait for the verify byte.
	AckTimeout time.Duration

	// FlashLoader is the P2 sub-loader prepended to images written to flash.
	FlashLoader []byte
	// MicroLoader is the P1 program that receives the image stream. When
	// empty the stream is clocked straight into the boot ROM.
	MicroLoader []byte

	// UseHex sends P2 images with Prop_Hex instead of Prop_Txt.
	UseHex bool
}

func defaultConfig() Config {
	return Config{
		BitTimeout:  110 * time.Millisecond,
		BitRetries:  100,
		LineTimeout: 50 * time.Millisecond,
		AckTimeout:  10 * time.Second,
	}
}

func newConfig(opts []Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	if c.Listener == nil {
		c.Listener = NopListener{}
	}
	return c
}

// Option configures a loader.
type Option func(*Config)

// WithListener subscribes l to upload phases.
func WithListener(l Listener) Option {
	return func(c *Config) {
		c.Listener = l
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithBitTimeout overrides the 110ms P1 handshake bit timeout.
func WithBitTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BitTimeout = d
		}
	}
}

// WithBitRetries overrides the 100 timed-out waits allowed per P1 bit.
func WithBitRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.BitRetries = n
		}
	}
}

// WithLineTimeout overrides the 50ms P2 inter-byte timeout.
func WithLineTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.LineTimeout = d
		}
	}
}

// WithAckTimeout overrides the 10s verify wait.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithFlashLoader sets the P2 flash sub-loader blob.
func WithFlashLoader(blob []byte) Option {
	return func(c *Config) {
		c.FlashLoader = blob
	}
}

// WithMicroLoader sets the P1 micro-loader blob.
func WithMicroLoader(blob []byte) Option {
	return func(c *Config) {
		c.MicroLoader = blob
	}
}

// WithHex switches P2 uploads to the Prop_Hex framing.
func WithHex(enable bool) Option {
	return func(c *Config) {
		c.UseHex = enable
	}
}

func (c *Config) debug(msg string, kv ...interface{}) {
	if c.Logger != nil {
		c.Logger.Debug(msg, kv...)
	}
}

func (c *Config) info(msg string, kv ...interface{}) {
	if c.Logger != nil {
		c.Logger.Info(msg, kv...)
	}
}

func (c *Config) progress(sent, total int) {
	if pl, ok := c.Listener.(ProgressListener); ok {
		pl.Progress(sent, total)
	}
}
