//go:build unix

package f1udp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenUDP binds with SO_REUSEADDR so other telemetry tools can share the port.
func listenUDP(addr string, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			if sockErr != nil {
				return fmt.Errorf("failed to set SO_REUSEADDR: %w", sockErr)
			}
			return nil
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(addr, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
