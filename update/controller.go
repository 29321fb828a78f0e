// Package update runs a firmware update across the selected devices.
//
// A Controller takes a snapshot of the parameters, discovers devices when
// none are known, asks for confirmation and then uploads the firmware to each
// target in turn. A failed device is marked and the batch moves on.
package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/serial"
)

// ErrNoFirmware is returned by Run when no firmware is selected.
var ErrNoFirmware = errors.New("no firmware selected")

// ErrBusy is returned by Run while another run is in progress.
var ErrBusy = errors.New("update already running")

// Discoverer finds devices. *discovery.Engine implements it.
type Discoverer interface {
	FindDevices(ctx context.Context, local, network bool) ([]*models.Device, error)
}

// Recorder persists the outcome of each device upload.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Controller drives update runs. It is safe to share between goroutines; only
// one run executes at a time.
type Controller struct {
	queue      *params.Queue
	discover   Discoverer
	confirm    func(n int) bool
	sink       Sink
	recorder   Recorder
	newPort    func(d models.Device) serial.Port
	loaderOpts []loader.Option
	logger     loader.Logger
	now        func() time.Time

	running chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithDiscoverer sets the engine used when no device is known yet.
func WithDiscoverer(d Discoverer) Option {
	return func(c *Controller) { c.discover = d }
}

// WithConfirm sets the confirmation prompt. Returning false declines the run.
func WithConfirm(fn func(n int) bool) Option {
	return func(c *Controller) {
		if fn != nil {
			c.confirm = fn
		}
	}
}

// WithSink sets the progress sink.
func WithSink(s Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithRecorder persists every device result.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithPortFactory overrides how a device is turned into a port.
func WithPortFactory(f func(d models.Device) serial.Port) Option {
	return func(c *Controller) {
		if f != nil {
			c.newPort = f
		}
	}
}

// WithLoaderOptions are passed to every loader the controller creates.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(c *Controller) { c.loaderOpts = append(c.loaderOpts, opts...) }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l loader.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New returns a controller that reads and mutates parameters through q.
func New(q *params.Queue, opts ...Option) *Controller {
	c := &Controller{
		queue:   q,
		confirm: func(int) bool { return true },
		sink:    NopSink{},
		newPort: func(d models.Device) serial.Port { return PortFor(d) },
		now:     time.Now,
		running: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger != nil {
		c.loaderOpts = append([]loader.Option{loader.WithLogger(c.logger)}, c.loaderOpts...)
	}
	return c
}

// PortFor returns the transport for a device: its serial port when it has
// one, otherwise a connection to its network bridge configured with opts.
func PortFor(d models.Device, opts ...serial.NetworkOption) serial.Port {
	if d.SerialPort != "" {
		return serial.NewSerialPort(d.SerialPort)
	}
	return serial.NewNetworkPort(d.Name, d.IP, d.MAC, d.ResetPin, opts...)
}

type target struct {
	dev *models.Device
	loc models.Device
}

type plan struct {
	firmware *models.Firmware
	targets  []target
	local    bool
	network  bool
	known    bool
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	return len(c.running) > 0
}

// Run updates the targets with the selected firmware. writeFlash also stores
// the image in boot memory.
//
// A cancelled run returns a summary with Cancelled set and a nil error.
func (c *Controller) Run(ctx context.Context, writeFlash bool) (Summary, error) {
	select {
	case c.running <- struct{}{}:
	default:
		return Summary{}, ErrBusy
	}
	defer func() { <-c.running }()

	s := Summary{BatchID: uuid.NewString()}

	p, err := c.snapshot(ctx)
	if err != nil {
		return s, err
	}
	if p.firmware == nil {
		return s, ErrNoFirmware
	}

	if !p.known && c.discover != nil {
		list, err := c.discover.FindDevices(ctx, p.local, p.network)
		if err != nil {
			if loader.IsCancelled(err) {
				s.Cancelled = true
				c.sink.End(s)
				return s, nil
			}
			return s, fmt.Errorf("discover devices: %w", err)
		}
		if p.targets, err = c.adopt(ctx, list); err != nil {
			return s, err
		}
	}

	targets := p.targets[:0]
	for _, t := range p.targets {
		if t.loc.Version == p.firmware.BinaryVersion {
			targets = append(targets, t)
		}
	}
	s.Targets = len(targets)
	if len(targets) == 0 {
		c.sink.Notify(s.String())
		c.sink.End(s)
		return s, nil
	}
	if !c.confirm(len(targets)) {
		s.Declined = true
		c.sink.End(s)
		return s, nil
	}

	if !c.queue.Post(func(pp *params.Parameters) {
		for _, t := range targets {
			pp.SetDeviceStatus(t.dev, models.StatusNone)
		}
	}) {
		return s, params.ErrQueueClosed
	}

	c.sink.Begin(len(targets))
	for i, t := range targets {
		if ctx.Err() != nil {
			s.Cancelled = true
			break
		}
		r := c.upload(ctx, s.BatchID, i, t, p.firmware, writeFlash)
		s.Results = append(s.Results, r)
		if r.Cancelled {
			s.Cancelled = true
			break
		}
	}
	s.tally()
	c.info("update finished", "batch", s.BatchID, "targets", s.Targets, "ok", s.Succeeded, "failed", s.Failed, "cancelled", s.Cancelled)
	c.sink.End(s)
	return s, nil
}

func (c *Controller) snapshot(ctx context.Context) (plan, error) {
	var p plan
	err := c.queue.Do(ctx, func(pp *params.Parameters) {
		p.firmware = pp.Firmware()
		p.local = pp.EnableLocal()
		p.network = pp.EnableNetwork()
		p.known = len(pp.Devices()) > 0
		for _, d := range pp.SelectedDevices() {
			p.targets = append(p.targets, target{dev: d, loc: *d})
		}
	})
	return p, err
}

// adopt stores freshly discovered devices and returns all of them as targets.
func (c *Controller) adopt(ctx context.Context, list []*models.Device) ([]target, error) {
	var out []target
	err := c.queue.Do(ctx, func(pp *params.Parameters) {
		pp.SetDevices(list)
		for _, d := range pp.Devices() {
			out = append(out, target{dev: d, loc: *d})
		}
	})
	return out, err
}

func (c *Controller) upload(ctx context.Context, batch string, i int, t target, fw *models.Firmware, writeFlash bool) Result {
	port := c.newPort(t.loc)
	r := Result{
		BatchID:    batch,
		Device:     t.loc,
		Firmware:   fw.Description,
		Version:    fw.BinaryVersion,
		WriteFlash: writeFlash,
		Started:    c.now(),
	}
	c.sink.DeviceStart(i, t.loc, port.Description())
	c.info("firmware upload", "device", t.loc.Name, "port", port.Description())

	opts := append(append([]loader.Option(nil), c.loaderOpts...), loader.WithListener(relay{c.sink}))
	ld, err := loader.New(fw.BinaryVersion, port, opts...)
	if err == nil {
		err = ld.Upload(ctx, fw.BinaryImage, writeFlash)
	}
	r.Duration = c.now().Sub(r.Started)
	r.Err = err

	status := models.StatusOK
	switch {
	case err != nil && loader.IsCancelled(err):
		status = models.StatusNone
		r.Cancelled = true
		r.Error = "cancelled"
		c.info("firmware upload cancelled", "device", t.loc.Name, "port", port.Description())
	case err != nil:
		status = models.StatusError
		r.Error = err.Error()
		c.error("firmware upload failed", "device", t.loc.Name, "port", port.Description(), "err", err)
	}
	r.Device.Status = status
	c.queue.Post(func(pp *params.Parameters) { pp.SetDeviceStatus(t.dev, status) })
	c.sink.DeviceDone(i, r.Device, err)

	if c.recorder != nil {
		if rerr := c.recorder.Record(context.WithoutCancel(ctx), r); rerr != nil {
			c.error("record result", "err", rerr)
		}
	}
	return r
}

func (c *Controller) info(msg string, kv ...interface{}) {
	if c.logger != nil {
		c.logger.Info(msg, kv...)
	}
}

func (c *Controller) error(msg string, kv ...interface{}) {
	if c.logger != nil {
		c.logger.Error(msg, kv...)
	}
}
