package server

import (
	"fmt"
	"net"
	"strings"

	"github.com/CK6170/propeller-loader/models"
)

// deviceKey turns a selection request into the identity used by the
// parameters. A request must name either a serial port or an IP address.
func deviceKey(req DeviceSelectRequest) (models.DeviceKey, error) {
	port := strings.TrimSpace(req.SerialPort)
	if port != "" {
		return models.DeviceKey{SerialPort: port}, nil
	}
	if req.IP == "" {
		return models.DeviceKey{}, fmt.Errorf("missing serialPort or ip")
	}
	ip := net.ParseIP(strings.TrimSpace(req.IP))
	if ip == nil {
		return models.DeviceKey{}, fmt.Errorf("invalid ip %q", req.IP)
	}
	return models.DeviceKey{IP: ip.String(), MAC: req.MAC}, nil
}
