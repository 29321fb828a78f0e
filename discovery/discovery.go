// Package discovery finds Propeller chips on local serial ports and behind
// serial-over-IP bridges that answer the UDP descriptor broadcast.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/serial"
)

// Protocol constants of the bridge descriptor broadcast.
const (
	DiscoverPort         = 32420
	DiscoverAttempts     = 3
	DiscoverReplyTimeout = 250 * time.Millisecond

	bridgeProbeAttempts = 3
	maxDatagram         = 2048
)

// Engine runs discovery. The zero value is not usable; call New.
type Engine struct {
	listPorts   func() []string
	serialPort  func(name string) serial.Port
	networkPort func(d *models.DeviceDescriptor, ip net.IP) serial.Port
	broadcasts  func() ([]net.IP, error)

	listenPort   int
	discoverPort int
	attempts     int
	replyTimeout time.Duration
	concurrency  int

	loaderOpts []loader.Option
	logger     loader.Logger
}

// New returns an engine probing the host's serial ports and network
// interfaces.
func New(opts ...Option) *Engine {
	e := &Engine{
		listPorts:  serial.ListPorts,
		serialPort: func(name string) serial.Port { return serial.NewSerialPort(name) },
		networkPort: func(d *models.DeviceDescriptor, ip net.IP) serial.Port {
			return serial.NewNetworkPort(d.Name, ip, d.MACAddress, d.ResetPin)
		},
		broadcasts:   BroadcastAddrs,
		listenPort:   DiscoverPort,
		discoverPort: DiscoverPort,
		attempts:     DiscoverAttempts,
		replyTimeout: DiscoverReplyTimeout,
		concurrency:  4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger != nil {
		e.loaderOpts = append([]loader.Option{loader.WithLogger(e.logger)}, e.loaderOpts...)
	}
	return e
}

func (e *Engine) debug(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, kv...)
	}
}

// Find runs FindDevices and hands the merged list to done exactly once.
func (e *Engine) Find(ctx context.Context, local, network bool, done func([]*models.Device)) {
	list, _ := e.FindDevices(ctx, local, network)
	if done != nil {
		done(list)
	}
}

// FindDevices probes the requested transports and returns every chip found,
// de-duplicated and sorted. When ctx ends early the devices found so far are
// returned with loader.ErrCancelled.
func (e *Engine) FindDevices(ctx context.Context, local, network bool) ([]*models.Device, error) {
	found := make(chan *models.Device)
	var wg sync.WaitGroup
	if local {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.findLocal(ctx, found)
		}()
	}
	if network {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.findNetwork(ctx, found)
		}()
	}
	go func() {
		wg.Wait()
		close(found)
	}()

	list := make([]*models.Device, 0, 4)
	for d := range found {
		list = append(list, d)
	}
	list = models.DedupDevices(list)
	models.SortDevices(list)

	if ctx.Err() != nil {
		return list, loader.ErrCancelled
	}
	return list, nil
}

func (e *Engine) findLocal(ctx context.Context, found chan<- *models.Device) {
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.concurrency)
	)

scanLoop:
	for _, name := range e.listPorts() {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break scanLoop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()
			if d := e.probeSerial(ctx, name); d != nil {
				found <- d
			}
		}(name)
	}
	wg.Wait()
}

// probeSerial tries P2 first, then P1. Any failure means no device here.
func (e *Engine) probeSerial(ctx context.Context, name string) *models.Device {
	port := e.serialPort(name)
	if err := port.Open(); err != nil {
		e.debug("skip port", "port", name, "err", err)
		return nil
	}
	defer func() { _ = port.Close() }()

	version := models.VersionP2
	rc, err := loader.DetectP2(ctx, port, e.loaderOpts...)
	if err != nil {
		return nil
	}
	if rc == 0 {
		if rc, err = loader.DetectP1(ctx, port, e.loaderOpts...); err != nil || rc == 0 {
			return nil
		}
		if rc == 1 {
			version = models.VersionP1
		}
	}
	return models.NewSerialDevice(loader.VersionText(rc), version, name)
}

// findNetwork walks the broadcast addresses one by one: every probe binds the
// same local UDP port.
func (e *Engine) findNetwork(ctx context.Context, found chan<- *models.Device) {
	addrs, err := e.broadcasts()
	if err != nil {
		e.debug("interface scan failed", "err", err)
		return
	}
	for _, bcast := range addrs {
		if ctx.Err() != nil {
			return
		}
		descs, err := e.broadcast(ctx, bcast)
		if err != nil {
			e.debug("broadcast failed", "addr", bcast, "err", err)
			continue
		}
		for _, r := range descs {
			if ctx.Err() != nil {
				return
			}
			found <- e.probeBridge(ctx, r.desc, r.ip)
		}
	}
}

type reply struct {
	ip   net.IP
	desc *models.DeviceDescriptor
}

// broadcast sends the descriptor request to bcast up to attempts times and
// collects the replies of the first attempt that got any, one per IP.
func (e *Engine) broadcast(ctx context.Context, bcast net.IP) ([]reply, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: e.listenPort})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: bcast, Port: e.discoverPort}
	buf := make([]byte, maxDatagram)
	var out []reply
	seen := make(map[string]bool)

	for attempt := 0; attempt < e.attempts && len(out) == 0; attempt++ {
		if ctx.Err() != nil {
			return out, loader.ErrCancelled
		}
		if _, err := conn.WriteToUDP([]byte{0, 0, 0, 0}, dst); err != nil {
			return nil, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(e.replyTimeout)); err != nil {
			return nil, err
		}
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				break
			}
			// Our own request comes back on some interfaces.
			if n == 0 || buf[0] == 0 {
				continue
			}
			desc, err := models.ParseDescriptor(buf[:n])
			if err != nil {
				e.debug("bad descriptor", "from", from, "err", err)
				continue
			}
			key := from.IP.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, reply{ip: from.IP, desc: desc})
		}
	}
	return out, nil
}

// probeBridge identifies the chip behind a bridge. A bridge whose chip stays
// silent is still listed, as a P1 named after the bridge.
func (e *Engine) probeBridge(ctx context.Context, desc *models.DeviceDescriptor, ip net.IP) *models.Device {
	d := models.NewNetworkDevice(desc.Name, models.VersionP1, ip, desc.MACAddress, desc.ResetPin)

	port := e.networkPort(desc, ip)
	if err := port.Open(); err != nil {
		e.debug("bridge unreachable", "ip", ip, "err", err)
		return d
	}
	defer func() { _ = port.Close() }()

	for i := 0; i < bridgeProbeAttempts; i++ {
		rc, err := loader.DetectP2(ctx, port, e.loaderOpts...)
		if err != nil {
			break
		}
		if rc != 0 {
			d.Name = loader.VersionText(rc)
			d.Version = models.VersionP2
			break
		}
	}
	return d
}

// BroadcastAddrs returns the IPv4 broadcast address of every up, non-loopback
// interface that supports broadcast.
func BroadcastAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if b := broadcastOf(ipn); b != nil {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func broadcastOf(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if ip4 == nil || len(mask) != net.IPv4len {
		return nil
	}
	b := make(net.IP, net.IPv4len)
	for i := range ip4 {
		b[i] = ip4[i] | ^mask[i]
	}
	return b
}
