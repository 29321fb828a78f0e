package models

import (
	"encoding/json"
	"fmt"
)

// Firmware is an immutable binary image plus the chip generation it targets.
//
// Field order is alphabetical so the encoded pack keeps its keys sorted.
type Firmware struct {
	BinaryImage   []byte `json:"binaryImage"`
	BinaryVersion int    `json:"binaryVersion"`
	Description   string `json:"description"`
}

// NewFirmware returns a firmware with an explicit generation and description.
func NewFirmware(version int, image []byte, description string) *Firmware {
	return &Firmware{BinaryVersion: version, BinaryImage: image, Description: description}
}

// FirmwareFromBytes infers the generation from the byte sum of image: a sum of
// P1ImageChecksum (mod 256) marks a P1 image, anything else a P2 image.
func FirmwareFromBytes(image []byte) *Firmware {
	var sum byte
	for _, b := range image {
		sum += b
	}
	version := VersionP2
	if sum == P1ImageChecksum {
		version = VersionP1
	}
	return NewFirmware(version, image, FirmwareDescription(version))
}

// String implements fmt.Stringer.
func (f *Firmware) String() string {
	return fmt.Sprintf("Firmware [binaryVersion=%d, description=%s]", f.BinaryVersion, f.Description)
}

// MarshalJSON always emits the image field, as an empty string when there is
// no image.
func (f Firmware) MarshalJSON() ([]byte, error) {
	type plain Firmware
	if f.BinaryImage == nil {
		f.BinaryImage = []byte{}
	}
	return json.Marshal(plain(f))
}

// FirmwarePack bundles firmware images with the discovery preferences that
// go with them.
type FirmwarePack struct {
	EnableLocal   bool        `json:"enableLocal"`
	EnableNetwork bool        `json:"enableNetwork"`
	FirmwareList  []*Firmware `json:"firmwareList"`
}

// NewFirmwarePack returns an empty pack with local discovery enabled.
func NewFirmwarePack() *FirmwarePack {
	return &FirmwarePack{EnableLocal: true, FirmwareList: []*Firmware{}}
}

// Add appends fw to the pack.
func (p *FirmwarePack) Add(fw *Firmware) {
	p.FirmwareList = append(p.FirmwareList, fw)
}

// Remove drops fw from the pack. It reports whether fw was present.
func (p *FirmwarePack) Remove(fw *Firmware) bool {
	for i, f := range p.FirmwareList {
		if f == fw {
			p.FirmwareList = append(p.FirmwareList[:i], p.FirmwareList[i+1:]...)
			return true
		}
	}
	return false
}

// EncodePack renders pack as indented JSON with every field present.
func EncodePack(pack *FirmwarePack) ([]byte, error) {
	out := *pack
	if out.FirmwareList == nil {
		out.FirmwareList = []*Firmware{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

// DecodePack parses a pack. Unknown fields are ignored; a missing enableLocal
// keeps its default of true.
func DecodePack(data []byte) (*FirmwarePack, error) {
	pack := NewFirmwarePack()
	if err := json.Unmarshal(data, pack); err != nil {
		return nil, fmt.Errorf("decode firmware pack: %w", err)
	}
	if pack.FirmwareList == nil {
		pack.FirmwareList = []*Firmware{}
	}
	for i, fw := range pack.FirmwareList {
		if fw == nil {
			return nil, fmt.Errorf("decode firmware pack: entry %d is null", i)
		}
	}
	return pack, nil
}
