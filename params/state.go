package params

import "github.com/CK6170/propeller-loader/models"

// FirmwareInfo describes a firmware without its image.
type FirmwareInfo struct {
	Index         int    `json:"index"`
	Description   string `json:"description"`
	BinaryVersion int    `json:"binaryVersion"`
	Size          int    `json:"size"`
}

// State is a copy of the parameters safe to hand to another goroutine.
type State struct {
	File          string          `json:"file"`
	FirmwareList  []FirmwareInfo  `json:"firmwareList"`
	Firmware      *FirmwareInfo   `json:"firmware"`
	UpdateAll     bool            `json:"updateAll"`
	Devices       []models.Device `json:"devices"`
	EnableLocal   bool            `json:"enableLocal"`
	EnableNetwork bool            `json:"enableNetwork"`
	CanUpdate     bool            `json:"canUpdate"`
}

func info(i int, f *models.Firmware) FirmwareInfo {
	return FirmwareInfo{Index: i, Description: f.Description, BinaryVersion: f.BinaryVersion, Size: len(f.BinaryImage)}
}

// Snapshot copies the current state. Firmware.Index is -1 when the selected
// firmware is not part of a list.
func (p *Parameters) Snapshot() State {
	s := State{
		File:          p.file,
		FirmwareList:  make([]FirmwareInfo, 0, len(p.firmwareList)),
		UpdateAll:     p.updateAll,
		Devices:       make([]models.Device, 0, len(p.devices)),
		EnableLocal:   p.enableLocal,
		EnableNetwork: p.enableNetwork,
		CanUpdate:     p.CanUpdate(),
	}
	for i, f := range p.firmwareList {
		s.FirmwareList = append(s.FirmwareList, info(i, f))
	}
	if p.firmware != nil {
		fi := info(-1, p.firmware)
		for i, f := range p.firmwareList {
			if f == p.firmware {
				fi.Index = i
			}
		}
		s.Firmware = &fi
	}
	for _, d := range p.devices {
		s.Devices = append(s.Devices, *d)
	}
	return s
}
