package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPCheckerAgainstLiveListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(ln.Addr().String()).WithTimeout(2 * time.Second)
	result := checker.Check(context.Background())

	assert.True(t, result.Healthy)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestTCPCheckerClosedPort(t *testing.T) {
	// Grab a free port and close it again so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	checker := NewTCPChecker(addr).WithTimeout(500 * time.Millisecond)
	result := checker.Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
}

func TestPortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, PortOpen(context.Background(), port, time.Second))

	require.NoError(t, ln.Close())
	assert.False(t, PortOpen(context.Background(), port, 500*time.Millisecond))
}

func TestTrackerReport(t *testing.T) {
	tracker := NewTracker()
	time.Sleep(10 * time.Millisecond)

	report := tracker.Report()
	assert.Equal(t, "ok", report.Status)
	assert.GreaterOrEqual(t, report.UptimeSeconds, int64(0))
	assert.Positive(t, tracker.Uptime())
}
