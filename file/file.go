// Package file reads and writes firmware images and firmware packs.
//
// A selection is chosen by extension: `.json` is a firmware pack, `.binary`
// and `.bin` are raw images. Anything else is rejected.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CK6170/propeller-loader/models"
)

// Selection is the result of loading a user-chosen file. Exactly one of
// Firmware and Pack is set.
type Selection struct {
	Path     string
	Firmware *models.Firmware
	Pack     *models.FirmwarePack
}

// IsPack reports whether the selection is a firmware pack.
func (s Selection) IsPack() bool { return s.Pack != nil }

// Load reads path as a pack or a raw image depending on its extension.
func Load(path string) (Selection, error) {
	sel := Selection{Path: path}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		pack, err := LoadPack(path)
		if err != nil {
			return sel, err
		}
		sel.Pack = pack
	case ".binary", ".bin":
		fw, err := LoadFirmware(path)
		if err != nil {
			return sel, err
		}
		sel.Firmware = fw
	default:
		return sel, fmt.Errorf("%s: unsupported file type: %w", path, models.ErrInvalidFirmware)
	}
	return sel, nil
}

// LoadFirmware reads a raw image and infers its chip generation.
func LoadFirmware(path string) (*models.Firmware, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware %s: %v: %w", path, err, models.ErrInvalidFirmware)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty: %w", path, models.ErrInvalidFirmware)
	}
	return models.FirmwareFromBytes(data), nil
}

// LoadPack reads a firmware pack. Unknown fields are ignored.
func LoadPack(path string) (*models.FirmwarePack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware pack %s: %v: %w", path, err, models.ErrInvalidFirmware)
	}
	pack, err := models.DecodePack(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, models.ErrInvalidFirmware)
	}
	return pack, nil
}

// SavePack writes pack as indented JSON.
func SavePack(path string, pack *models.FirmwarePack) error {
	data, err := models.EncodePack(pack)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write firmware pack: %w", err)
	}
	return nil
}

// LoadBlob reads an optional helper program such as the P2 flash loader.
// An empty path returns nil.
func LoadBlob(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// RelativePath shortens path for display by stripping appDir, or the working
// directory when appDir is empty. Paths outside it are returned absolute.
func RelativePath(path, appDir string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if appDir == "" {
		if appDir, err = os.Getwd(); err != nil {
			return abs
		}
	}
	rel, err := filepath.Rel(appDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return rel
}
