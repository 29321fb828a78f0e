package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/CK6170/propeller-loader/serial/serialtest"
)

func TestVersionText(t *testing.T) {
	tests := []struct {
		rc   int
		want string
	}{
		{0, ""},
		{1, "P8X32A"},
		{'G', "P2X8C4M64P Rev B/C"},
		{'A', "Unknown version 'A'"},
		{'7', "Unknown version '7'"},
		{0x13, "Unknown version 19"},
		{255, "Unknown version 'ÿ'"},
	}
	for _, tt := range tests {
		if got := VersionText(tt.rc); got != tt.want {
			t.Errorf("VersionText(%d) = %q, want %q", tt.rc, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	port := serialtest.New("COM1")
	l, err := New(1, port)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*P1Loader); !ok || l.Port() != port {
		t.Fatalf("New(1) = %T", l)
	}
	l, err = New(2, port)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*P2Loader); !ok {
		t.Fatalf("New(2) = %T", l)
	}
	if _, err := New(0, port); err == nil {
		t.Fatal("New(0) succeeded")
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(ErrCancelled) || !IsCancelled(context.Canceled) {
		t.Fatal("cancellation not recognised")
	}
	if IsCancelled(errors.New("x")) || IsCancelled(ErrTimeout) {
		t.Fatal("unexpected cancellation")
	}
}
