package mavlink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

// ParseAddress turns a MAVSDK-style connection URL into a gomavlib
// endpoint:
//
//	udp://:14540             listen for the vehicle (udpin:// is the same)
//	udpout://10.0.0.2:14550  send to the vehicle
//	tcp://10.0.0.2:5760      connect to a TCP server (tcpout:// is the same)
//	tcpin://:5760            accept TCP connections
//	serial:///dev/ttyACM0:57600
func ParseAddress(addr string) (gomavlib.EndpointConf, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		return nil, fmt.Errorf("connection address %q has no scheme", addr)
	}

	switch scheme {
	case "udp", "udpin":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp", "tcpout":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: rest}, nil
	case "serial":
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			return gomavlib.EndpointSerial{Device: rest, Baud: 57600}, nil
		}
		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return nil, fmt.Errorf("serial baud rate %q: %w", rest[i+1:], err)
		}
		return gomavlib.EndpointSerial{Device: rest[:i], Baud: baud}, nil
	default:
		return nil, fmt.Errorf("unsupported connection scheme %q", scheme)
	}
}
