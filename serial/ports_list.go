package serial

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/CK6170/Intellispec-go/models"
)

// ListPorts returns the serial ports available on this machine, sorted by
// name and de-duplicated. USB details are filled in when the OS enumerator
// provides them.
//
// When the enumerator returns nothing, common device globs are scanned
// instead (no details available then).
func ListPorts() []models.PortInfo {
	if ports, err := enumerator.GetDetailedPortsList(); err == nil && len(ports) > 0 {
		out := make([]models.PortInfo, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, models.PortInfo{
				Name:         p.Name,
				IsUSB:        p.IsUSB,
				VID:          p.VID,
				PID:          p.PID,
				SerialNumber: p.SerialNumber,
				Product:      p.Product,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}

	var names []string
	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		names = listByGlob("/dev/cu.*", "/dev/tty.*")
	default:
		names = listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
	}
	out := make([]models.PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, models.PortInfo{Name: n})
	}
	return out
}

// HasPort reports whether name is among ports. Names compare case-insensitively
// since Windows treats COM3 and com3 as the same device.
func HasPort(ports []models.PortInfo, name string) bool {
	name = strings.TrimSpace(name)
	for _, p := range ports {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
