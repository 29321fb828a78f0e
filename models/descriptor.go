package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PermissiveBool decodes the loose booleans bridges put in their descriptors.
// Valid is false when the value was missing or not recognised.
type PermissiveBool struct {
	Value bool
	Valid bool
}

var (
	permissiveTrue  = []string{"1", "active", "true", "enabled"}
	permissiveFalse = []string{"0", "inactive", "false", "disabled"}
)

// ParsePermissiveBool maps text onto a PermissiveBool.
func ParsePermissiveBool(text string) PermissiveBool {
	for _, s := range permissiveTrue {
		if text == s {
			return PermissiveBool{Value: true, Valid: true}
		}
	}
	for _, s := range permissiveFalse {
		if text == s {
			return PermissiveBool{Value: false, Valid: true}
		}
	}
	return PermissiveBool{}
}

// UnmarshalJSON accepts strings, numbers and JSON booleans.
func (b *PermissiveBool) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	*b = ParsePermissiveBool(text)
	return nil
}

// MarshalJSON writes true/false, or null when unspecified.
func (b PermissiveBool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

// DeviceDescriptor is the JSON document a network bridge returns to a discover
// datagram.
type DeviceDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ResetPin    string         `json:"reset pin"`
	RxPullup    PermissiveBool `json:"rx pullup"`
	MACAddress  string         `json:"mac address"`
}

// ParseDescriptor decodes a bridge descriptor. Descriptors without a MAC
// address are rejected.
func ParseDescriptor(data []byte) (*DeviceDescriptor, error) {
	var d DeviceDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: descriptor: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(d.MACAddress) == "" {
		return nil, fmt.Errorf("%w: descriptor %q has no mac address", ErrProtocol, d.Name)
	}
	return &d, nil
}

// String implements fmt.Stringer.
func (d *DeviceDescriptor) String() string {
	return fmt.Sprintf("DeviceDescriptor [name=%s, description=%s, reset_pin=%s, rx_pullup=%v, mac_address=%s]",
		d.Name, d.Description, d.ResetPin, d.RxPullup.Value, d.MACAddress)
}
