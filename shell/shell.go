// Package shell is the front-end state shared by the command line and web
// drivers: which file is loaded, which firmware view is shown, and the
// update run in progress.
//
// Every parameter change goes through the params.Queue, so a Loader can be
// used from any goroutine.
package shell

import (
	"context"
	"errors"
	"sync"

	"github.com/CK6170/propeller-loader/file"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/update"
)

// View is the firmware panel a front-end shows.
type View int

const (
	// ViewInfo describes a single firmware loaded from a raw image.
	ViewInfo View = iota
	// ViewList lets the user pick a firmware from a pack.
	ViewList
)

func (v View) String() string {
	if v == ViewList {
		return "list"
	}
	return "info"
}

func (v View) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// ErrNoController is returned by Update and Start when the Loader was built
// without an update controller.
var ErrNoController = errors.New("no update controller")

// State is what a front-end renders.
type State struct {
	params.State
	FileText string `json:"fileText"`
	View     View   `json:"view"`
	Embedded bool   `json:"embedded"`
	Running  bool   `json:"running"`
}

// Loader binds a front-end to the parameters and the update controller.
type Loader struct {
	queue    *params.Queue
	ctrl     *update.Controller
	discover update.Discoverer
	appDir   string

	mu       sync.Mutex
	embedded bool
	listLen  int // size of the installed firmware list
	busy     bool
	cancel   context.CancelFunc
}

// Option configures a Loader.
type Option func(*Loader)

// WithController sets the controller used by Update and Start.
func WithController(c *update.Controller) Option {
	return func(l *Loader) { l.ctrl = c }
}

// WithDiscoverer sets the engine used by Discover.
func WithDiscoverer(d update.Discoverer) Option {
	return func(l *Loader) { l.discover = d }
}

// WithAppDir sets the base directory for displayed file paths.
func WithAppDir(dir string) Option {
	return func(l *Loader) { l.appDir = dir }
}

// WithEmbeddedFirmware starts the loader in embedded mode.
func WithEmbeddedFirmware(embedded bool) Option {
	return func(l *Loader) { l.embedded = embedded }
}

// New returns a Loader working on q. The queue must be running.
func New(q *params.Queue, opts ...Option) *Loader {
	l := &Loader{queue: q}
	for _, opt := range opts {
		opt(l)
	}
	q.Post(func(p *params.Parameters) {
		l.setListLen(len(p.FirmwareList()))
		p.AddListener(params.FirmwareList, func(c params.Change) {
			list, _ := c.New.([]*models.Firmware)
			l.setListLen(len(list))
		})
	})
	return l
}

func (l *Loader) setListLen(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listLen = n
}

// View returns the firmware panel to show: the list while a pack with
// entries is installed, otherwise the single firmware. Embedded mode always
// shows the list.
func (l *Loader) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.embedded || l.listLen > 0 {
		return ViewList
	}
	return ViewInfo
}

// SetEmbeddedFirmware hides file selection and forces the list view.
func (l *Loader) SetEmbeddedFirmware(embedded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.embedded = embedded
}

// EmbeddedFirmware reports whether file selection is hidden.
func (l *Loader) EmbeddedFirmware() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.embedded
}

// HandleFileSelection records path and loads it as a pack or an image. The
// path is kept even when loading fails.
func (l *Loader) HandleFileSelection(ctx context.Context, path string) error {
	sel, loadErr := file.Load(path)
	err := l.queue.Do(ctx, func(p *params.Parameters) {
		p.SetFile(path)
		switch {
		case sel.Pack != nil:
			p.UpdateFromPack(sel.Pack)
		case sel.Firmware != nil:
			p.UpdateFromFirmware(sel.Firmware)
		}
	})
	if err != nil {
		return err
	}
	return loadErr
}

// UpdateFromFirmware installs a single firmware. path may be empty.
func (l *Loader) UpdateFromFirmware(ctx context.Context, path string, fw *models.Firmware) error {
	return l.queue.Do(ctx, func(p *params.Parameters) {
		if path != "" {
			p.SetFile(path)
		}
		p.UpdateFromFirmware(fw)
	})
}

// UpdateFromPack installs a firmware pack. path may be empty.
func (l *Loader) UpdateFromPack(ctx context.Context, path string, pack *models.FirmwarePack) error {
	return l.queue.Do(ctx, func(p *params.Parameters) {
		if path != "" {
			p.SetFile(path)
		}
		p.UpdateFromPack(pack)
	})
}

// SelectFirmware picks entry i of the firmware list.
func (l *Loader) SelectFirmware(ctx context.Context, i int) error {
	var err error
	if derr := l.queue.Do(ctx, func(p *params.Parameters) {
		list := p.FirmwareList()
		if i < 0 || i >= len(list) {
			err = params.ErrFirmwareNotListed
			return
		}
		err = p.SetFirmware(list[i])
	}); derr != nil {
		return derr
	}
	return err
}

// Options sets the update-all and discovery flags.
type Options struct {
	UpdateAll     *bool `json:"updateAll,omitempty"`
	EnableLocal   *bool `json:"enableLocal,omitempty"`
	EnableNetwork *bool `json:"enableNetwork,omitempty"`
}

// SetOptions applies the flags that are set.
func (l *Loader) SetOptions(ctx context.Context, o Options) error {
	return l.queue.Do(ctx, func(p *params.Parameters) {
		if o.UpdateAll != nil {
			p.SetUpdateAll(*o.UpdateAll)
		}
		if o.EnableLocal != nil {
			p.SetEnableLocal(*o.EnableLocal)
		}
		if o.EnableNetwork != nil {
			p.SetEnableNetwork(*o.EnableNetwork)
		}
	})
}

// SelectDevice marks the device with the given identity. It reports whether
// the device is known.
func (l *Loader) SelectDevice(ctx context.Context, key models.DeviceKey, selected bool) (bool, error) {
	found := false
	err := l.queue.Do(ctx, func(p *params.Parameters) {
		if d := p.Lookup(key); d != nil {
			found = true
			p.SetDeviceSelection(d, selected)
		}
	})
	return found, err
}

// Discover searches for devices with the current flags and stores them.
func (l *Loader) Discover(ctx context.Context) ([]models.Device, error) {
	if l.discover == nil {
		return nil, errors.New("no discoverer")
	}
	var local, network bool
	if err := l.queue.Do(ctx, func(p *params.Parameters) {
		local, network = p.EnableLocal(), p.EnableNetwork()
	}); err != nil {
		return nil, err
	}
	list, err := l.discover.FindDevices(ctx, local, network)
	if err != nil {
		return nil, err
	}
	var out []models.Device
	err = l.queue.Do(ctx, func(p *params.Parameters) {
		p.SetDevices(list)
		for _, d := range p.Devices() {
			out = append(out, *d)
		}
	})
	return out, err
}

// State returns a snapshot for rendering.
func (l *Loader) State(ctx context.Context) (State, error) {
	var s State
	if err := l.queue.Do(ctx, func(p *params.Parameters) { s.State = p.Snapshot() }); err != nil {
		return s, err
	}
	s.FileText = file.RelativePath(s.File, l.appDir)
	s.View = l.View()
	s.Embedded = l.EmbeddedFirmware()
	s.Running = l.ctrl != nil && l.ctrl.Running()
	return s, nil
}

// Update runs an update and waits for it.
func (l *Loader) Update(ctx context.Context, writeFlash bool) (update.Summary, error) {
	if l.ctrl == nil {
		return update.Summary{}, ErrNoController
	}
	return l.ctrl.Run(ctx, writeFlash)
}

// Start runs an update in the background and calls done with its outcome.
// Stop cancels it.
func (l *Loader) Start(ctx context.Context, writeFlash bool, done func(update.Summary, error)) error {
	if l.ctrl == nil {
		return ErrNoController
	}
	l.mu.Lock()
	if l.busy || l.ctrl.Running() {
		l.mu.Unlock()
		return update.ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	l.busy = true
	l.cancel = cancel
	l.mu.Unlock()
	go func() {
		s, err := l.ctrl.Run(ctx, writeFlash)
		cancel()
		l.mu.Lock()
		l.busy = false
		l.cancel = nil
		l.mu.Unlock()
		if done != nil {
			done(s, err)
		}
	}()
	return nil
}

// Stop cancels the background update, if any.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}
