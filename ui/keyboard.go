package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/eiannone/keyboard"
)

// One reader goroutine feeds a buffered channel so the keyboard is opened
// once per process.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// KeyEsc is sent on the key channel for the escape key.
const KeyEsc = 27

// StartKeyEvents returns a channel of single key presses read without Enter.
// The channel is closed when the keyboard cannot be opened, e.g. without a
// terminal, or when reading fails.
func StartKeyEvents() <-chan rune {
	startOnce.Do(func() {
		keyCh = startKeys(keyboard.Open, keyboard.GetKey, keyboard.Close)
	})
	return keyCh
}

func startKeys(open func() error, get func() (rune, keyboard.Key, error), closeKb func() error) chan rune {
	ch := make(chan rune, 64)
	if err := open(); err != nil {
		close(ch)
		return ch
	}
	go func() {
		defer func() { _ = closeKb() }()
		defer close(ch)
		for {
			char, key, err := get()
			if err != nil {
				return
			}
			switch {
			case key == 0:
				send(ch, char)
			case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
				send(ch, KeyEsc)
			case key == keyboard.KeyEnter:
				send(ch, '\r')
			}
		}
	}()
	return ch
}

// send drops the key when nobody is reading.
func send(ch chan<- rune, r rune) {
	select {
	case ch <- r:
	default:
	}
}

// DrainKeys discards keys pressed before a prompt.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Confirm asks "Found N device(s). Confirm firmware update?" and waits for Y,
// N or ESC. It returns false when there is no keyboard.
func Confirm(w io.Writer, n int) bool {
	return confirm(w, n, StartKeyEvents())
}

func confirm(w io.Writer, n int, keys <-chan rune) bool {
	Greenf(w, "Found %d device(s). Confirm firmware update? [y/N]\n", n)
	for k := range keys {
		switch k {
		case 'y', 'Y':
			return true
		case 'n', 'N', '\r', KeyEsc:
			return false
		}
	}
	fmt.Fprintln(w, "No keyboard available, update not confirmed.")
	return false
}
