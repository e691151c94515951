// Package netutil provides small local-network helpers shared by the worker
// and client binaries.
package netutil

import "net"

// TailscaleIP returns the first IPv4 address found on a tailscale0/utun
// interface, or "" if none is present. Both the worker (heartbeat identity)
// and the client (default requester ID) fall back to "unknown" when this
// returns empty, matching the original implementation's behavior of never
// failing startup over a missing Tailscale interface.
func TailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if !isTailscaleIface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}

func isTailscaleIface(name string) bool {
	return name == "tailscale0" || len(name) >= 4 && name[:4] == "utun"
}
