package models

import (
	"bytes"
	"net"
	"sort"
)

// Device is an addressable target: either a chip on a local serial port or a
// chip behind a network bridge.
//
// Identity is the location alone (serial port, IP and MAC). Name and Version
// describe what answered and never take part in comparisons.
type Device struct {
	Name    string `json:"name"`
	Version int    `json:"version"`

	SerialPort string `json:"serialPort,omitempty"`

	IP       net.IP `json:"ip,omitempty"`
	MAC      string `json:"mac,omitempty"`
	ResetPin string `json:"resetPin,omitempty"`

	Selected bool   `json:"selected"`
	Status   Status `json:"status"`
}

// DeviceKey is the comparable identity of a Device.
type DeviceKey struct {
	SerialPort string
	IP         string
	MAC        string
}

// NewSerialDevice returns a device attached to a local serial port.
func NewSerialDevice(name string, version int, port string) *Device {
	return &Device{Name: name, Version: version, SerialPort: port}
}

// NewNetworkDevice returns a device reachable through a network bridge.
func NewNetworkDevice(name string, version int, ip net.IP, mac, resetPin string) *Device {
	return &Device{Name: name, Version: version, IP: ip, MAC: mac, ResetPin: resetPin}
}

// Key returns the identity used for deduplication and reconciliation.
func (d *Device) Key() DeviceKey {
	k := DeviceKey{SerialPort: d.SerialPort, MAC: d.MAC}
	if d.IP != nil {
		k.IP = d.IP.String()
	}
	return k
}

// Equal reports whether both devices share the same location.
func (d *Device) Equal(o *Device) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Key() == o.Key()
}

// IsNetwork reports whether the device sits behind a network bridge.
func (d *Device) IsNetwork() bool {
	return d.SerialPort == ""
}

// PortDescription is the human readable location: the port name or the IP.
func (d *Device) PortDescription() string {
	if d.SerialPort != "" {
		return d.SerialPort
	}
	if d.IP != nil {
		return d.IP.String()
	}
	return ""
}

// CompareDevices orders serial devices before network devices, serial devices
// by port name and network devices by the bytes of their IPv4/IPv6 address.
func CompareDevices(a, b *Device) int {
	as, bs := a.SerialPort != "", b.SerialPort != ""
	switch {
	case as && !bs:
		return -1
	case !as && bs:
		return 1
	case as && bs:
		switch {
		case a.SerialPort < b.SerialPort:
			return -1
		case a.SerialPort > b.SerialPort:
			return 1
		}
		return 0
	}
	return bytes.Compare(ipBytes(a.IP), ipBytes(b.IP))
}

func ipBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// SortDevices sorts list in place using CompareDevices.
func SortDevices(list []*Device) {
	sort.SliceStable(list, func(i, j int) bool {
		return CompareDevices(list[i], list[j]) < 0
	})
}

// DedupDevices returns list without later entries whose identity already
// appeared. The first occurrence wins.
func DedupDevices(list []*Device) []*Device {
	seen := make(map[DeviceKey]struct{}, len(list))
	out := make([]*Device, 0, len(list))
	for _, d := range list {
		if d == nil {
			continue
		}
		k := d.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}
