package serial

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ListPorts returns the serial ports worth probing on this host, sorted and
// de-duplicated.
//
// The cross-platform enumerator is tried first. When it returns nothing the
// usual device globs are expanded instead. Bluetooth serial services are
// skipped: opening them blocks until a peer connects.
func ListPorts() []string {
	var names []string
	if ports, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, p := range ports {
			if p != nil {
				names = append(names, p.Name)
			}
		}
	}
	if len(names) == 0 {
		switch runtime.GOOS {
		case "windows":
			return nil
		case "darwin":
			names = listByGlob("/dev/cu.*")
		default:
			names = listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
		}
	}
	return filterPorts(names)
}

func filterPorts(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || strings.Contains(strings.ToLower(n), "bluetooth") {
			continue
		}
		// macOS lists every device twice; keep the call-out side.
		if strings.HasPrefix(n, "/dev/tty.") {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// listByGlob expands device globs, skipping entries that vanished meanwhile.
func listByGlob(patterns ...string) []string {
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err != nil {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
