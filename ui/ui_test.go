package ui

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/eiannone/keyboard"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/update"
)

func TestRedWriter(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewRedWriter(&buf).Write([]byte("boom"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if buf.String() != "\033[31mboom\033[0m" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &StdLogger{L: log.New(&buf, "", 0)}
	l.Debug("hidden", "k", 1)
	l.Info("p2 upload", "port", "COM1", "size", 17)
	l.Error("failed", "err")
	got := buf.String()
	want := "p2 upload port=COM1 size=17\n[ERROR] failed err\n"
	if got != want {
		t.Fatalf("log = %q, want %q", got, want)
	}

	buf.Reset()
	l.Verbose = true
	l.Debug("shown")
	if buf.String() != "[DEBUG] shown\n" {
		t.Fatalf("debug = %q", buf.String())
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		keys string
		want bool
	}{
		{"y", true},
		{"xY", true},
		{"n", false},
		{"\r", false},
		{string(rune(KeyEsc)), false},
		{"", false},
	}
	for _, tt := range tests {
		keys := make(chan rune, len(tt.keys))
		for _, k := range tt.keys {
			keys <- k
		}
		close(keys)
		var buf bytes.Buffer
		if got := confirm(&buf, 3, keys); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.keys, got, tt.want)
		}
		if !strings.Contains(buf.String(), "Found 3 device(s). Confirm firmware update?") {
			t.Errorf("prompt = %q", buf.String())
		}
	}
}

func TestConfirmWithoutTerminal(t *testing.T) {
	keys := startKeys(
		func() error { return errors.New("open /dev/tty: no such device or address") },
		func() (rune, keyboard.Key, error) { t.Error("read without an open keyboard"); return 0, 0, errors.New("closed") },
		func() error { return nil },
	)
	done := make(chan bool, 1)
	var buf bytes.Buffer
	go func() { done <- confirm(&buf, 2, keys) }()
	select {
	case got := <-done:
		if got {
			t.Fatal("confirmed without a keyboard")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirm blocked without a keyboard")
	}
}

func TestStartKeysClosesOnReadError(t *testing.T) {
	script := []struct {
		char rune
		key  keyboard.Key
	}{{'y', 0}, {0, keyboard.KeyEnter}, {0, keyboard.KeyCtrlC}}
	i := 0
	keys := startKeys(
		func() error { return nil },
		func() (rune, keyboard.Key, error) {
			if i == len(script) {
				return 0, 0, errors.New("eof")
			}
			s := script[i]
			i++
			return s.char, s.key, nil
		},
		func() error { return nil },
	)
	var got []rune
	for k := range keys {
		got = append(got, k)
	}
	if string(got) != "y\r"+string(rune(KeyEsc)) {
		t.Fatalf("keys = %q", got)
	}
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	d := *models.NewSerialDevice("a", 2, "COM1")
	s.Begin(2)
	s.DeviceStart(0, d, "COM1")
	s.BufferUpload(loader.DownloadRunFlash, []byte{1}, "binary image")
	s.Progress(48, 96)
	s.Progress(96, 96)
	s.VerifyRAM()
	s.EEPROMWrite()
	s.DeviceDone(0, d, nil)
	s.DeviceStart(1, d, "COM2")
	s.DeviceDone(1, d, errors.New("timeout"))
	s.End(update.Summary{Targets: 2, Succeeded: 1, Failed: 1})

	out := buf.String()
	for _, want := range []string{
		"[1/2] Firmware upload to COM1",
		"Loading binary image to RAM",
		"Verifying RAM ... ",
		"Writing EEPROM ... ",
		"OK",
		"[2/2] Firmware upload to COM2",
		"Error: timeout",
		"Updated 1 of 2 device(s), 1 failed.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}
