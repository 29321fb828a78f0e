package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
	"github.com/CK6170/propeller-loader/serial/serialtest"
)

const p2Banner = "\rProp_Ver G\r"

func p2Reply(w []byte) []byte {
	if string(w) == "> \r> Prop_Chk 0 0 0 0\r" {
		return []byte(p2Banner)
	}
	return nil
}

// ports returns a factory serving one scripted port per name. Names missing
// from replies fail to open.
func ports(replies map[string]serialtest.ReplyFunc) func(string) serial.Port {
	return func(name string) serial.Port {
		p := serialtest.New(name)
		r, ok := replies[name]
		if !ok {
			p.OpenErr = errors.New("access denied")
		}
		p.Reply = r
		return p
	}
}

func fastLoader() Option {
	return WithLoaderOptions(loader.WithBitRetries(0), loader.WithBitTimeout(time.Millisecond))
}

func TestFindLocal(t *testing.T) {
	e := New(
		WithPortLister(func() []string { return []string{"/dev/ttyUSB2", "/dev/ttyUSB0", "/dev/ttyUSB1"} }),
		WithSerialPortFactory(ports(map[string]serialtest.ReplyFunc{
			"/dev/ttyUSB0": p2Reply,
			"/dev/ttyUSB1": nil,
		})),
		fastLoader(),
	)
	var calls int
	var got []*models.Device
	e.Find(context.Background(), true, false, func(list []*models.Device) {
		calls++
		got = list
	})
	if calls != 1 {
		t.Fatalf("done called %d times", calls)
	}
	if len(got) != 1 {
		t.Fatalf("found %d devices, want 1", len(got))
	}
	d := got[0]
	if d.SerialPort != "/dev/ttyUSB0" || d.Version != models.VersionP2 || d.Name != "P2X8C4M64P Rev B/C" {
		t.Fatalf("device = %+v", d)
	}
}

// responder is a fake bridge answering the descriptor broadcast.
func responder(t *testing.T, payloads ...string) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n != 4 || buf[0] != 0 {
				continue
			}
			for _, p := range payloads {
				_, _ = conn.WriteToUDP([]byte(p), from)
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func networkEngine(port int, reply serialtest.ReplyFunc, opts ...Option) *Engine {
	base := []Option{
		WithListenPort(0),
		WithDiscoverPort(port),
		WithReplyTimeout(100 * time.Millisecond),
		WithBroadcastAddrs(func() ([]net.IP, error) { return []net.IP{net.IPv4(127, 0, 0, 1)}, nil }),
		WithNetworkPortFactory(func(d *models.DeviceDescriptor, ip net.IP) serial.Port {
			p := serialtest.New(d.Name)
			p.Reply = reply
			return p
		}),
		fastLoader(),
	}
	return New(append(base, opts...)...)
}

const wxDescriptor = `{"name":"wx-7f","description":"Parallax WX","reset pin":"DTR","rx pullup":"enabled","mac address":"18:fe:34:aa:bb:cc","extra":1}`

func TestFindNetwork(t *testing.T) {
	port := responder(t,
		"\x00\x00\x00\x00",
		`not json`,
		`{"name":"no-mac"}`,
		wxDescriptor,
		wxDescriptor,
	)
	got, err := networkEngine(port, p2Reply).FindDevices(context.Background(), false, true)
	if err != nil {
		t.Fatalf("FindDevices: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("found %d devices, want 1: %v", len(got), got)
	}
	d := got[0]
	if !d.IsNetwork() || !d.IP.Equal(net.IPv4(127, 0, 0, 1)) || d.MAC != "18:fe:34:aa:bb:cc" || d.ResetPin != "DTR" {
		t.Fatalf("device = %+v", d)
	}
	if d.Version != models.VersionP2 || d.Name != "P2X8C4M64P Rev B/C" {
		t.Fatalf("chip = %d %q", d.Version, d.Name)
	}
}

func TestFindNetworkSilentChip(t *testing.T) {
	port := responder(t, wxDescriptor)
	got, err := networkEngine(port, nil).FindDevices(context.Background(), false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Version != models.VersionP1 || got[0].Name != "wx-7f" {
		t.Fatalf("found %+v", got)
	}
}

func TestFindNetworkNoReply(t *testing.T) {
	port := responder(t)
	start := time.Now()
	got, err := networkEngine(port, nil, WithAttempts(2)).FindDevices(context.Background(), false, true)
	if err != nil || len(got) != 0 {
		t.Fatalf("FindDevices = %v, %v", got, err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Fatal("both attempts should wait for replies")
	}
}

func TestFindMergesSorted(t *testing.T) {
	port := responder(t, wxDescriptor)
	e := networkEngine(port, p2Reply,
		WithPortLister(func() []string { return []string{"COM7", "COM3"} }),
		WithSerialPortFactory(ports(map[string]serialtest.ReplyFunc{"COM7": p2Reply, "COM3": p2Reply})),
	)
	got, err := e.FindDevices(context.Background(), true, true)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, d := range got {
		order = append(order, d.PortDescription())
	}
	want := []string{"COM3", "COM7", "127.0.0.1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFindCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var mu sync.Mutex
	var opened []string
	e := New(
		WithPortLister(func() []string { return []string{"COM1", "COM2"} }),
		WithSerialPortFactory(func(name string) serial.Port {
			mu.Lock()
			opened = append(opened, name)
			mu.Unlock()
			return serialtest.New(name)
		}),
		WithBroadcastAddrs(func() ([]net.IP, error) { return nil, nil }),
	)
	got, err := e.FindDevices(ctx, true, true)
	if !errors.Is(err, loader.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if len(got) != 0 || len(opened) != 0 {
		t.Fatalf("found %v, opened %v", got, opened)
	}
}

func TestBroadcastOf(t *testing.T) {
	_, n, _ := net.ParseCIDR("192.168.10.37/24")
	n.IP = net.ParseIP("192.168.10.37")
	if got := broadcastOf(n); !got.Equal(net.IPv4(192, 168, 10, 255)) {
		t.Fatalf("broadcast = %v", got)
	}
	_, v6, _ := net.ParseCIDR("fe80::1/64")
	if broadcastOf(v6) != nil {
		t.Fatal("IPv6 has no broadcast")
	}
}
