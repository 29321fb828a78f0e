// Package config loads the loader's settings from a YAML file, an optional
// .env file and the process environment, in that order of precedence from
// lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/CK6170/propeller-loader/discovery"
	"github.com/CK6170/propeller-loader/file"
	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
	"github.com/CK6170/propeller-loader/update"
)

// DefaultPath is read when neither an explicit path nor PROPLOADER_CONFIG is
// given.
const DefaultPath = "proploader.yaml"

// Timeouts tunes the wire protocols.
type Timeouts struct {
	P1Bit        time.Duration `yaml:"p1_bit"`
	P1BitRetries int           `yaml:"p1_bit_retries"`
	P2Line       time.Duration `yaml:"p2_line"`
	Ack          time.Duration `yaml:"ack"`
	UDPReply     time.Duration `yaml:"udp_reply"`
	Connect      time.Duration `yaml:"connect"`
	HTTP         time.Duration `yaml:"http"`
}

// Discovery tunes device discovery.
type Discovery struct {
	Local       bool `yaml:"local"`
	Network     bool `yaml:"network"`
	Attempts    int  `yaml:"attempts"`
	ListenPort  int  `yaml:"listen_port"`
	Concurrency int  `yaml:"concurrency"`
}

// Config is the full set of settings.
type Config struct {
	// AppDir is the base of displayed firmware paths (APP_DIR).
	AppDir string `yaml:"app_dir"`
	// WriteToRAM makes RAM the default upload target (LOADER_WRITE_TO_RAM).
	WriteToRAM bool `yaml:"write_to_ram"`
	Debug      bool `yaml:"debug"`

	// Firmware is loaded at start-up when set.
	Firmware string `yaml:"firmware"`

	HistoryDB string `yaml:"history_db"`
	Addr      string `yaml:"addr"`

	// P2FlashLoader and P1MicroLoader are paths to helper programs.
	P2FlashLoader string `yaml:"p2_flash_loader"`
	P1MicroLoader string `yaml:"p1_micro_loader"`
	P2Hex         bool   `yaml:"p2_hex"`

	Discovery Discovery `yaml:"discovery"`
	Timeouts  Timeouts  `yaml:"timeouts"`

	// Path is the YAML file that was read, if any.
	Path string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HistoryDB: "proploader.db",
		Addr:      ":8080",
		Discovery: Discovery{
			Local:       true,
			Attempts:    discovery.DiscoverAttempts,
			ListenPort:  discovery.DiscoverPort,
			Concurrency: 4,
		},
		Timeouts: Timeouts{
			P1Bit:        110 * time.Millisecond,
			P1BitRetries: 100,
			P2Line:       50 * time.Millisecond,
			Ack:          10 * time.Second,
			UDPReply:     discovery.DiscoverReplyTimeout,
			Connect:      3 * time.Second,
			HTTP:         3 * time.Second,
		},
	}
}

// Load reads path (or PROPLOADER_CONFIG, or DefaultPath) over the defaults,
// then applies the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("PROPLOADER_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Path = path
	}
	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_DIR"); v != "" {
		c.AppDir = v
	}
	if _, ok := os.LookupEnv("LOADER_WRITE_TO_RAM"); ok {
		c.WriteToRAM = true
	}
	if v := os.Getenv("PROPLOADER_HISTORY_DB"); v != "" {
		c.HistoryDB = v
	}
	if v := os.Getenv("PROPLOADER_P2_FLASH_LOADER"); v != "" {
		c.P2FlashLoader = v
	}
	if v := os.Getenv("PROPLOADER_P1_MICRO_LOADER"); v != "" {
		c.P1MicroLoader = v
	}
	if v := os.Getenv("PROPLOADER_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("PROPLOADER_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

// fillDefaults replaces zero or negative tuning values.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Discovery.Attempts <= 0 {
		c.Discovery.Attempts = d.Discovery.Attempts
	}
	if c.Discovery.Concurrency <= 0 {
		c.Discovery.Concurrency = d.Discovery.Concurrency
	}
	if c.Discovery.ListenPort < 0 {
		c.Discovery.ListenPort = d.Discovery.ListenPort
	}
	t, dt := &c.Timeouts, d.Timeouts
	for _, p := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.P1Bit, dt.P1Bit},
		{&t.P2Line, dt.P2Line},
		{&t.Ack, dt.Ack},
		{&t.UDPReply, dt.UDPReply},
		{&t.Connect, dt.Connect},
		{&t.HTTP, dt.HTTP},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
	if t.P1BitRetries <= 0 {
		t.P1BitRetries = dt.P1BitRetries
	}
}

// WriteFlash is the default upload target.
func (c *Config) WriteFlash() bool { return !c.WriteToRAM }

// LoaderOptions builds the loader tuning, reading the helper programs from
// disk.
func (c *Config) LoaderOptions() ([]loader.Option, error) {
	flash, err := file.LoadBlob(c.P2FlashLoader)
	if err != nil {
		return nil, fmt.Errorf("p2 flash loader: %w", err)
	}
	micro, err := file.LoadBlob(c.P1MicroLoader)
	if err != nil {
		return nil, fmt.Errorf("p1 micro loader: %w", err)
	}
	return []loader.Option{
		loader.WithBitTimeout(c.Timeouts.P1Bit),
		loader.WithBitRetries(c.Timeouts.P1BitRetries),
		loader.WithLineTimeout(c.Timeouts.P2Line),
		loader.WithAckTimeout(c.Timeouts.Ack),
		loader.WithFlashLoader(flash),
		loader.WithMicroLoader(micro),
		loader.WithHex(c.P2Hex),
	}, nil
}

// NetworkOptions tunes the bridge connections.
func (c *Config) NetworkOptions() []serial.NetworkOption {
	return []serial.NetworkOption{
		serial.WithConnectTimeout(c.Timeouts.Connect),
		serial.WithHTTPClient(&http.Client{Timeout: c.Timeouts.HTTP}),
	}
}

// PortFor opens devices with the configured network tuning.
func (c *Config) PortFor(d models.Device) serial.Port {
	return update.PortFor(d, c.NetworkOptions()...)
}

// DiscoveryOptions builds the discovery engine tuning.
func (c *Config) DiscoveryOptions(logger loader.Logger, loaderOpts []loader.Option) []discovery.Option {
	netOpts := c.NetworkOptions()
	opts := []discovery.Option{
		discovery.WithAttempts(c.Discovery.Attempts),
		discovery.WithReplyTimeout(c.Timeouts.UDPReply),
		discovery.WithListenPort(c.Discovery.ListenPort),
		discovery.WithConcurrency(c.Discovery.Concurrency),
		discovery.WithLoaderOptions(loaderOpts...),
		discovery.WithNetworkPortFactory(func(d *models.DeviceDescriptor, ip net.IP) serial.Port {
			return serial.NewNetworkPort(d.Name, ip, d.MACAddress, d.ResetPin, netOpts...)
		}),
	}
	if logger != nil {
		opts = append(opts, discovery.WithLogger(logger))
	}
	return opts
}
