package facts

import (
	"strings"

	"github.com/ksparavec/reachsim/internal/model"
)

// parseMetadata parses the payload of the optional "metadata" section:
// "key: value" lines, one per field. Recognized keys are "type", "role",
// and "vpn_interface"; an unset vpn_interface or type != "gateway" leaves
// IsVPNGateway false, matching network_namespace_setup.py's
// metadata.type == "gateway" check before it looks for a wg0 interface.
func parseMetadata(payload string) model.RouterMetadata {
	var m model.RouterMetadata
	for _, line := range strings.Split(payload, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "type":
			m.Type = value
		case "role":
			m.Role = value
		case "vpn_interface":
			m.VPNInterface = value
		}
	}
	m.IsVPNGateway = m.Type == "gateway" && m.VPNInterface != ""
	return m
}
