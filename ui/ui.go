// Package ui holds the terminal helpers of the command line loader: coloured
// output, a log adapter, single-key prompts and the update progress display.
package ui

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// RedWriter wraps an io.Writer and emits red-colored output.
type RedWriter struct{ w io.Writer }

func (r RedWriter) Write(p []byte) (int, error) {
	out := append([]byte("\033[31m"), p...)
	out = append(out, []byte("\033[0m")...)
	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewRedWriter returns a RedWriter wrapping the provided io.Writer.
func NewRedWriter(w io.Writer) RedWriter { return RedWriter{w: w} }

// Greenf prints a light green message to w.
func Greenf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, "\033[92m"+format+"\033[0m", a...)
}

// Warningf prints a bright yellow warning to w.
func Warningf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, "\033[93m"+format+"\033[0m", a...)
}

// Redf prints an error message in red to w.
func Redf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, "\033[31m"+format+"\033[0m", a...)
}

// StdLogger adapts a *log.Logger to the key/value Logger used by the loaders,
// discovery and the update controller. Debug lines are dropped unless
// Verbose is set.
type StdLogger struct {
	L       *log.Logger
	Verbose bool
}

// NewLogger returns a logger writing to w.
func NewLogger(w io.Writer, verbose bool) *StdLogger {
	return &StdLogger{L: log.New(w, "", log.LstdFlags), Verbose: verbose}
}

func (l *StdLogger) Debug(msg string, kv ...interface{}) {
	if l.Verbose {
		l.L.Print("[DEBUG] " + msg + fields(kv))
	}
}

func (l *StdLogger) Info(msg string, kv ...interface{}) {
	l.L.Print(msg + fields(kv))
}

func (l *StdLogger) Error(msg string, kv ...interface{}) {
	l.L.Print("[ERROR] " + msg + fields(kv))
}

// fields renders key/value pairs as " k=v k=v". A trailing key without a
// value is printed alone.
func fields(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 == len(kv) {
			fmt.Fprint(&b, kv[i])
			break
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
