package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a TCP address. For a Minecraft server the game port
// accepting connections is the closest thing to "players can join" that
// does not require speaking the game protocol.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker with a 5 second dial timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// WithTimeout overrides the dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// Check dials the address once.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("tcp connect to %s ok", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// PortOpen reports whether the local port accepts TCP connections. It is
// the quick form used by inline status reconciliation.
func PortOpen(ctx context.Context, port int, timeout time.Duration) bool {
	checker := NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", port)).WithTimeout(timeout)
	return checker.Check(ctx).Healthy
}
