//go:build !unix && !windows

package f1udp

import "net"

func listenUDP(addr string, port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(addr), Port: port})
}
