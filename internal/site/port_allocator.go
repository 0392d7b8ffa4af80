package site

import (
	"fmt"
	"net"

	"wpdock/internal/domain"
)

// PortRangeSource supplies the configured range of site ports.
type PortRangeSource interface {
	GetPortRange() (int, int, error)
}

// AllocatePort returns the lowest port in range that no site uses and that
// the host can bind.
func AllocatePort(ranges PortRangeSource, used map[int]bool, available func(int) bool) (int, error) {
	startPort, endPort, err := ranges.GetPortRange()
	if err != nil {
		return 0, fmt.Errorf("error reading port range: %w", err)
	}
	if available == nil {
		available = isPortAvailable
	}

	for port := startPort; port <= endPort; port++ {
		if used[port] {
			continue
		}

		if available(port) {
			return port, nil
		}
	}

	return 0, domain.Unavailable(fmt.Sprintf("no free ports in range %d-%d", startPort, endPort), nil)
}

func isPortAvailable(port int) bool {
	conn, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
