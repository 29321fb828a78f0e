package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/update"
)

// ConsoleSink prints an update run to a terminal, with a byte progress bar
// while each image streams out.
type ConsoleSink struct {
	w io.Writer

	mu    sync.Mutex
	total int
	bar   *progressbar.ProgressBar
	label string
}

var (
	_ update.Sink             = (*ConsoleSink)(nil)
	_ loader.ProgressListener = (*ConsoleSink)(nil)
)

// NewConsoleSink returns a sink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Notify(msg string) {
	Warningf(s.w, "%s\n", msg)
}

func (s *ConsoleSink) Begin(total int) {
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
}

func (s *ConsoleSink) DeviceStart(i int, d models.Device, port string) {
	Greenf(s.w, "[%d/%d] Firmware upload to %s\n", i+1, s.total, port)
}

func (s *ConsoleSink) BufferUpload(kind loader.Kind, image []byte, label string) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
	fmt.Fprintf(s.w, "Loading %s to RAM\n", label)
}

// Progress creates the bar on the first call of each upload.
func (s *ConsoleSink) Progress(sent, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		s.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(s.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(s.label),
			progressbar.OptionShowBytes(true),
		)
	}
	_ = s.bar.Set(sent)
}

func (s *ConsoleSink) finishBar() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
		fmt.Fprintln(s.w)
		s.bar = nil
	}
}

func (s *ConsoleSink) VerifyRAM() {
	s.finishBar()
	fmt.Fprint(s.w, "Verifying RAM ... ")
}

func (s *ConsoleSink) EEPROMWrite() {
	fmt.Fprint(s.w, "\nWriting EEPROM ... ")
}

func (s *ConsoleSink) EEPROMVerify() {
	fmt.Fprint(s.w, "\nVerifying EEPROM ... ")
}

func (s *ConsoleSink) DeviceDone(i int, d models.Device, err error) {
	s.finishBar()
	if loader.IsCancelled(err) {
		Warningf(s.w, "Cancelled\n")
		return
	}
	if err != nil {
		Redf(s.w, "Error: %v\n", err)
		return
	}
	Greenf(s.w, "OK\n")
}

func (s *ConsoleSink) End(sum update.Summary) {
	if sum.Targets == 0 {
		return
	}
	if sum.Failed > 0 || sum.Cancelled || sum.Declined {
		Warningf(s.w, "%s\n", sum)
		return
	}
	Greenf(s.w, "%s\n", sum)
}
