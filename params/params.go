// Package params holds the loader front-end state: the chosen firmware, the
// discovered devices and the discovery switches. Every change is announced
// to listeners keyed by Event.
//
// Parameters is not safe for concurrent use. One goroutine owns it; other
// goroutines post their mutations through a Queue.
package params

import (
	"errors"
	"fmt"

	"github.com/CK6170/propeller-loader/models"
)

// Event names the piece of state that changed.
type Event int

const (
	File Event = iota
	FirmwareList
	Firmware
	UpdateAll
	Devices
	EnableLocal
	EnableNetwork
	DeviceSelection
	DeviceStatus

	// All subscribes a listener to every event.
	All Event = -1
)

var eventNames = map[Event]string{
	File:            "file",
	FirmwareList:    "firmwareList",
	Firmware:        "firmware",
	UpdateAll:       "updateAll",
	Devices:         "devices",
	EnableLocal:     "enableLocal",
	EnableNetwork:   "enableNetwork",
	DeviceSelection: "deviceSelection",
	DeviceStatus:    "deviceStatus",
	All:             "all",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// MarshalText renders the event name in JSON payloads.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Change is delivered to listeners. Old is nil for list events. Device is set
// for DeviceSelection and DeviceStatus.
type Change struct {
	Event  Event
	Old    interface{}
	New    interface{}
	Device *models.Device
}

// Listener receives changes on the goroutine that made them.
type Listener func(Change)

// ListenerID identifies a registration for RemoveListener.
type ListenerID int

type registration struct {
	id    ListenerID
	event Event
	fn    Listener
}

// ErrFirmwareNotListed is returned by SetFirmware when a firmware list is
// installed and the firmware is not part of it.
var ErrFirmwareNotListed = errors.New("firmware not in firmware list")

// Parameters is the loader state.
type Parameters struct {
	file          string
	firmwareList  []*models.Firmware
	firmware      *models.Firmware
	updateAll     bool
	devices       []*models.Device
	enableLocal   bool
	enableNetwork bool

	listeners []registration
	nextID    ListenerID
}

// New returns the initial state: no firmware, no devices, update all,
// local discovery only.
func New() *Parameters {
	return &Parameters{
		updateAll:    true,
		enableLocal:  true,
		firmwareList: []*models.Firmware{},
		devices:      []*models.Device{},
	}
}

// AddListener subscribes fn to event, or to every event with All.
func (p *Parameters) AddListener(event Event, fn Listener) ListenerID {
	p.nextID++
	p.listeners = append(p.listeners, registration{id: p.nextID, event: event, fn: fn})
	return p.nextID
}

// RemoveListener drops a registration. Unknown ids are ignored.
func (p *Parameters) RemoveListener(id ListenerID) {
	for i, r := range p.listeners {
		if r.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

func (p *Parameters) fire(c Change) {
	regs := append([]registration(nil), p.listeners...)
	for _, r := range regs {
		if r.event == All || r.event == c.Event {
			r.fn(c)
		}
	}
}

func (p *Parameters) File() string { return p.file }

// SetFile records the path the firmware was loaded from.
func (p *Parameters) SetFile(path string) {
	if p.file == path {
		return
	}
	old := p.file
	p.file = path
	p.fire(Change{Event: File, Old: old, New: path})
}

// FirmwareList returns a copy of the installed list.
func (p *Parameters) FirmwareList() []*models.Firmware {
	return append([]*models.Firmware(nil), p.firmwareList...)
}

// SetFirmwareList installs list. A selected firmware that is not part of a
// non-empty list is deselected.
func (p *Parameters) SetFirmwareList(list []*models.Firmware) {
	p.setFirmwareList(list)
	if p.firmware != nil && len(p.firmwareList) > 0 && !p.listed(p.firmware) {
		p.setFirmware(nil)
	}
}

func (p *Parameters) setFirmwareList(list []*models.Firmware) {
	out := make([]*models.Firmware, 0, len(list))
	for _, f := range list {
		if f != nil {
			out = append(out, f)
		}
	}
	p.firmwareList = out
	p.fire(Change{Event: FirmwareList, New: p.FirmwareList()})
}

func (p *Parameters) listed(f *models.Firmware) bool {
	for _, x := range p.firmwareList {
		if x == f {
			return true
		}
	}
	return false
}

func (p *Parameters) Firmware() *models.Firmware { return p.firmware }

// SetFirmware selects f. While a firmware list is installed f must be one of
// its entries (or nil).
func (p *Parameters) SetFirmware(f *models.Firmware) error {
	if f != nil && len(p.firmwareList) > 0 && !p.listed(f) {
		return ErrFirmwareNotListed
	}
	p.setFirmware(f)
	return nil
}

func (p *Parameters) setFirmware(f *models.Firmware) {
	if p.firmware == f {
		return
	}
	old := p.firmware
	p.firmware = f
	p.fire(Change{Event: Firmware, Old: old, New: f})
}

func (p *Parameters) UpdateAll() bool { return p.updateAll }

func (p *Parameters) SetUpdateAll(v bool) {
	if p.updateAll == v {
		return
	}
	p.updateAll = v
	p.fire(Change{Event: UpdateAll, Old: !v, New: v})
}

func (p *Parameters) EnableLocal() bool { return p.enableLocal }

func (p *Parameters) SetEnableLocal(v bool) {
	if p.enableLocal == v {
		return
	}
	p.enableLocal = v
	p.fire(Change{Event: EnableLocal, Old: !v, New: v})
}

func (p *Parameters) EnableNetwork() bool { return p.enableNetwork }

func (p *Parameters) SetEnableNetwork(v bool) {
	if p.enableNetwork == v {
		return
	}
	p.enableNetwork = v
	p.fire(Change{Event: EnableNetwork, Old: !v, New: v})
}

// Devices returns a copy of the device list. The elements are the live
// device objects.
func (p *Parameters) Devices() []*models.Device {
	return append([]*models.Device(nil), p.devices...)
}

// SetDevices reconciles the device list with list: devices whose identity is
// new are appended, devices missing from list are removed, and devices
// already known keep their existing object (and so their selection and
// status).
func (p *Parameters) SetDevices(list []*models.Device) {
	incoming := make(map[models.DeviceKey]struct{}, len(list))
	known := make(map[models.DeviceKey]struct{}, len(p.devices))
	for _, d := range p.devices {
		known[d.Key()] = struct{}{}
	}
	for _, d := range list {
		if d == nil {
			continue
		}
		k := d.Key()
		incoming[k] = struct{}{}
		if _, ok := known[k]; !ok {
			known[k] = struct{}{}
			p.devices = append(p.devices, d)
		}
	}

	kept := p.devices[:0]
	for _, d := range p.devices {
		if _, ok := incoming[d.Key()]; ok {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(p.devices); i++ {
		p.devices[i] = nil
	}
	p.devices = kept

	p.fire(Change{Event: Devices, New: p.Devices()})
}

// Lookup returns the listed device with key, or nil.
func (p *Parameters) Lookup(key models.DeviceKey) *models.Device {
	for _, d := range p.devices {
		if d.Key() == key {
			return d
		}
	}
	return nil
}

// SetDeviceSelection marks d selected or not.
func (p *Parameters) SetDeviceSelection(d *models.Device, selected bool) {
	if d == nil || d.Selected == selected {
		return
	}
	d.Selected = selected
	p.fire(Change{Event: DeviceSelection, Old: !selected, New: selected, Device: d})
}

// SetDeviceStatus records the outcome of the last update on d.
func (p *Parameters) SetDeviceStatus(d *models.Device, status models.Status) {
	if d == nil || d.Status == status {
		return
	}
	old := d.Status
	d.Status = status
	p.fire(Change{Event: DeviceStatus, Old: old, New: status, Device: d})
}

// UpdateFromFirmware installs a single firmware loaded from a binary file.
func (p *Parameters) UpdateFromFirmware(f *models.Firmware) {
	p.setFirmwareList(nil)
	p.setFirmware(f)
}

// UpdateFromPack installs a firmware pack: its list, its first entry and its
// discovery switches.
func (p *Parameters) UpdateFromPack(pack *models.FirmwarePack) {
	if pack == nil {
		return
	}
	p.setFirmwareList(pack.FirmwareList)
	if len(p.firmwareList) > 0 {
		p.setFirmware(p.firmwareList[0])
	} else {
		p.setFirmware(nil)
	}
	p.SetEnableLocal(pack.EnableLocal)
	p.SetEnableNetwork(pack.EnableNetwork)
}

// CanUpdate reports whether an update can start: a firmware with a known
// generation is selected and there is at least one target.
func (p *Parameters) CanUpdate() bool {
	if p.firmware == nil || p.firmware.BinaryVersion == models.VersionUnknown {
		return false
	}
	return p.updateAll || len(p.SelectedDevices()) != 0
}

// SelectedDevices returns every device when UpdateAll is set, else the
// selected ones.
func (p *Parameters) SelectedDevices() []*models.Device {
	if p.updateAll {
		return p.Devices()
	}
	var out []*models.Device
	for _, d := range p.devices {
		if d.Selected {
			out = append(out, d)
		}
	}
	return out
}
