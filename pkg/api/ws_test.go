package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/types"
)

// fakeChild is a pipe-backed stand-in for a spawned server process.
type fakeChild struct {
	pid     int32
	stdout  *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  *io.PipeReader
	stderrW *io.PipeWriter
	stdin   *stdinCapture
	exitCh  chan int
}

func newFakeChild(pid int32) *fakeChild {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeChild{
		pid:     pid,
		stdout:  outR,
		stdoutW: outW,
		stderr:  errR,
		stderrW: errW,
		stdin:   &stdinCapture{},
		exitCh:  make(chan int, 1),
	}
}

func (c *fakeChild) PID() int32            { return c.pid }
func (c *fakeChild) Stdout() io.Reader     { return c.stdout }
func (c *fakeChild) Stderr() io.Reader     { return c.stderr }
func (c *fakeChild) Stdin() io.WriteCloser { return c.stdin }
func (c *fakeChild) Wait() int             { return <-c.exitCh }

func (c *fakeChild) emit(line string) {
	fmt.Fprintln(c.stdoutW, line)
}

func (c *fakeChild) exit(code int) {
	c.stdoutW.Close()
	c.stderrW.Close()
	c.exitCh <- code
}

type stdinCapture struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *stdinCapture) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	return b.buf.Write(p)
}

func (b *stdinCapture) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *stdinCapture) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// adoptChild wires a fake process into the registry and waits until its
// first line is in the ring, so dials that follow see it as history.
func (env *testEnv) adoptChild(t *testing.T, srv *types.Server, lines ...string) *fakeChild {
	t.Helper()
	child := newFakeChild(7777)
	session := env.hub.Adopt(srv.ID, srv.Name, child)

	if len(lines) > 0 {
		sub, _ := session.Subscribe()
		defer session.Unsubscribe(sub)
		for _, line := range lines {
			child.emit(line)
		}
		// Receiving on a live subscription proves the ring has the lines.
		for range lines {
			select {
			case <-sub.Lines():
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for console line to land")
			}
		}
	}
	return child
}

func (env *testEnv) dialConsole(t *testing.T, serverID int64) *websocket.Conn {
	t.Helper()
	conn, resp, err := env.dialConsoleRaw(serverID, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (env *testEnv) dialConsoleRaw(serverID int64, header http.Header) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http")
	return websocket.DefaultDialer.Dial(fmt.Sprintf("%s/api/v1/servers/%d/console/ws", wsURL, serverID), header)
}

func readWSFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// awaitWSFrame skips heartbeats (answering each with a pong) until a frame
// of the wanted type arrives.
func awaitWSFrame(t *testing.T, conn *websocket.Conn, typ string) wsFrame {
	t.Helper()
	for i := 0; i < 50; i++ {
		f := readWSFrame(t, conn)
		if f.Type == typ {
			return f
		}
		if f.Type == "heartbeat" {
			require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "pong"}))
		}
	}
	t.Fatalf("no %q frame arrived", typ)
	return wsFrame{}
}

func TestConsoleWSHistoryThenLive(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	child := env.adoptChild(t, srv, "[Server] Starting", "[Server] Done (2.1s)!")

	conn := env.dialConsole(t, srv.ID)

	history := readWSFrame(t, conn)
	require.Equal(t, "history", history.Type)
	require.Len(t, history.Lines, 2)
	assert.Equal(t, "[Server] Starting", history.Lines[0].Text)
	assert.Equal(t, "[Server] Done (2.1s)!", history.Lines[1].Text)

	child.emit("[Server] Player joined")
	out := awaitWSFrame(t, conn, "output")
	require.NotNil(t, out.Data)
	assert.Equal(t, "[Server] Player joined", out.Data.Text)
	assert.Equal(t, types.StreamStdout, out.Data.Stream)
}

func TestConsoleWSCommandRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	child := env.adoptChild(t, srv)

	conn := env.dialConsole(t, srv.ID)
	require.Equal(t, "history", readWSFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "command", Command: "say hello"}))

	ack := awaitWSFrame(t, conn, "command_ack")
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)
	assert.Equal(t, "say hello", ack.Command)

	assert.Eventually(t, func() bool {
		return strings.Contains(child.stdin.String(), "say hello\n")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConsoleWSEmptyCommandRejected(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	env.adoptChild(t, srv)

	conn := env.dialConsole(t, srv.ID)
	require.Equal(t, "history", readWSFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "command", Command: "   "}))

	ack := awaitWSFrame(t, conn, "command_ack")
	require.NotNil(t, ack.Success)
	assert.False(t, *ack.Success)
	assert.NotEmpty(t, ack.Message)
}

func TestConsoleWSServerStopped(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	child := env.adoptChild(t, srv)

	conn := env.dialConsole(t, srv.ID)
	require.Equal(t, "history", readWSFrame(t, conn).Type)

	child.exit(137)

	stopped := awaitWSFrame(t, conn, "server_stopped")
	require.NotNil(t, stopped.ExitCode)
	assert.Equal(t, 137, *stopped.ExitCode)
}

func TestConsoleWSRefusedWhenNotRunning(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")

	conn, resp, err := env.dialConsoleRaw(srv.ID, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConsoleWSUnknownServer(t *testing.T) {
	env := newTestEnv(t)

	conn, resp, err := env.dialConsoleRaw(999, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsoleWSDropsSilentClient(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	env.adoptChild(t, srv)

	conn := env.dialConsole(t, srv.ID)
	require.Equal(t, "history", readWSFrame(t, conn).Type)

	// Never answer heartbeats; the server must hang up after two missed.
	sawHeartbeat := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			require.True(t, sawHeartbeat, "server disconnected before probing")
			return
		}
		if f.Type == "heartbeat" {
			sawHeartbeat = true
		}
	}
	t.Fatal("server never dropped the silent client")
}

func TestConsoleWSKeepsRespondingClient(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	child := env.adoptChild(t, srv)

	conn := env.dialConsole(t, srv.ID)
	require.Equal(t, "history", readWSFrame(t, conn).Type)

	// Pong through several heartbeat cycles, then confirm the feed still
	// delivers output.
	for i := 0; i < 5; i++ {
		f := readWSFrame(t, conn)
		if f.Type == "heartbeat" {
			require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "pong"}))
		}
	}
	child.emit("still here")
	out := awaitWSFrame(t, conn, "output")
	assert.Equal(t, "still here", out.Data.Text)
}

func TestConsoleWSAuthViaQueryParam(t *testing.T) {
	env := newTestEnv(t)
	srv := env.seedServer(t, "survival")
	env.adoptChild(t, srv)
	raw := env.issueKey(t, "dashboard", types.PermRead)

	// No credentials: handshake is refused before the upgrade.
	conn, resp, err := env.dialConsoleRaw(srv.ID, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Browsers cannot set headers on WebSocket dials; the query parameter
	// carries the key instead.
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http")
	conn, resp, err = websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s/api/v1/servers/%d/console/ws?api_key=%s", wsURL, srv.ID, raw), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Equal(t, "history", readWSFrame(t, conn).Type)
}
