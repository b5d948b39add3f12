// Package network resolves the LAN-facing identity of this machine, the
// address and port the server announces itself under.
package network

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// OutboundIP returns the preferred outbound address of this machine, the
// one LAN peers can reach the server at. The dial never sends a packet,
// it only makes the kernel pick a route.
func OutboundIP() (netip.Addr, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dialing to get outbound ip address: %w", err)
	}
	defer conn.Close()
	ip := conn.LocalAddr().(*net.UDPAddr).IP
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, fmt.Errorf("parsing outbound address %q", ip)
	}
	return addr.Unmap(), nil
}

// ListenPort extracts the port from a listen address like ":8080" or
// "0.0.0.0:8080". Port zero is refused, an OS-assigned port cannot be
// announced before it is known.
func ListenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("splitting listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q carries no usable port", addr)
	}
	return port, nil
}
