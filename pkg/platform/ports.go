package platform

import (
	"fmt"
	"net"

	gopsnet "github.com/shirou/gopsutil/net"
)

// PortStatus is the result of a free-port probe.
type PortStatus struct {
	Free      bool
	HolderPID int32
}

// CheckPort attempts a bind-then-close on the loopback. When the bind
// fails, the LISTEN table is walked to identify the holding process; a
// holder pid of 0 means the owner could not be determined.
func (b *Backend) CheckPort(port int) PortStatus {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err == nil {
		l.Close()
		return PortStatus{Free: true}
	}

	status := PortStatus{Free: false}
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return status
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) {
			status.HolderPID = c.Pid
			break
		}
	}
	return status
}
