package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

// chdir runs the test in an empty directory so no stray .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"APP_DIR", "PROPLOADER_CONFIG", "PROPLOADER_HISTORY_DB", "PROPLOADER_P2_FLASH_LOADER",
		"PROPLOADER_P1_MICRO_LOADER", "PROPLOADER_ADDR", "PROPLOADER_DEBUG"} {
		t.Setenv(k, "")
	}
	t.Setenv("LOADER_WRITE_TO_RAM", "")
	os.Unsetenv("LOADER_WRITE_TO_RAM")
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t)
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != "" || !cfg.WriteFlash() || cfg.Timeouts.Ack != 10*time.Second || cfg.Discovery.Attempts != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)
	path := filepath.Join(dir, "custom.yaml")
	data := []byte(`
app_dir: /opt/fw
debug: true
p2_hex: true
discovery:
  network: true
  attempts: 5
timeouts:
  ack: 2s
  udp_reply: 400ms
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROPLOADER_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != path || cfg.AppDir != "/opt/fw" || !cfg.Debug || !cfg.P2Hex {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Discovery.Local || !cfg.Discovery.Network || cfg.Discovery.Attempts != 5 {
		t.Fatalf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Timeouts.Ack != 2*time.Second || cfg.Timeouts.UDPReply != 400*time.Millisecond || cfg.Timeouts.P2Line != 50*time.Millisecond {
		t.Fatalf("timeouts = %+v", cfg.Timeouts)
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("timeouts: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PROPLOADER_HISTORY_DB=from-dotenv.db\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_DIR", "/srv/app")
	t.Setenv("LOADER_WRITE_TO_RAM", "")
	t.Setenv("PROPLOADER_HISTORY_DB", "")
	os.Unsetenv("PROPLOADER_HISTORY_DB")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppDir != "/srv/app" || cfg.WriteFlash() {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.HistoryDB != "from-dotenv.db" {
		t.Fatalf("history db = %q", cfg.HistoryDB)
	}
}

func TestLoaderOptions(t *testing.T) {
	dir := chdir(t)
	cfg := Default()
	cfg.P2FlashLoader = filepath.Join(dir, "flash.bin")
	if _, err := cfg.LoaderOptions(); err == nil {
		t.Fatal("missing flash loader accepted")
	}
	if err := os.WriteFile(cfg.P2FlashLoader, make([]byte, 16), 0644); err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.LoaderOptions()
	if err != nil || len(opts) == 0 {
		t.Fatalf("LoaderOptions = %d, %v", len(opts), err)
	}
}

func TestPortFor(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.PortFor(*models.NewSerialDevice("a", 1, "COM1")).(*serial.SerialPort); !ok {
		t.Fatal("serial device did not get a serial port")
	}
	d := models.NewNetworkDevice("b", 2, []byte{192, 168, 1, 9}, "mac", "DTR")
	if _, ok := cfg.PortFor(*d).(*serial.NetworkPort); !ok {
		t.Fatal("network device did not get a network port")
	}
	if n := len(cfg.DiscoveryOptions(nil, nil)); n != 6 {
		t.Fatalf("%d discovery options", n)
	}
}
