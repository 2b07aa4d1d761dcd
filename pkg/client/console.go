package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/craftd/msm/pkg/types"
)

// ConsoleFrame mirrors the console stream envelope. Type selects which
// fields are populated; see the api package for the full protocol.
type ConsoleFrame struct {
	Type     string              `json:"type"`
	Lines    []types.ConsoleLine `json:"lines,omitempty"`
	Data     *types.ConsoleLine  `json:"data,omitempty"`
	Success  *bool               `json:"success,omitempty"`
	Command  string              `json:"command,omitempty"`
	Message  string              `json:"message,omitempty"`
	ExitCode *int                `json:"exit_code,omitempty"`
}

// ConsoleStream is an attached console session. Next answers heartbeats
// internally, so callers only ever see history, output, acks, and
// endings.
type ConsoleStream struct {
	conn *websocket.Conn

	// mu serializes writes: Send runs on the caller's goroutine while
	// Next replies to heartbeats on its own.
	mu sync.Mutex
}

// Console attaches to a server's live console. The daemon refuses with
// already_stopped when the server is not running.
func (c *Client) Console(ctx context.Context, serverID int64) (*ConsoleStream, error) {
	wsBase := strings.Replace(c.base, "http", "ws", 1)
	u := fmt.Sprintf("%s/api/v1/servers/%d/console/ws", wsBase, serverID)

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("console dial failed: %w", err)
	}
	resp.Body.Close()
	return &ConsoleStream{conn: conn}, nil
}

// Next returns the next console frame. Heartbeats are answered and
// swallowed; an error means the stream is over.
func (s *ConsoleStream) Next() (*ConsoleFrame, error) {
	for {
		var f ConsoleFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			return nil, err
		}
		if f.Type == "heartbeat" {
			s.mu.Lock()
			err := s.conn.WriteJSON(map[string]string{"type": "pong"})
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}
		return &f, nil
	}
}

// Send injects one command line into the server console. The ack arrives
// as a command_ack frame from Next.
func (s *ConsoleStream) Send(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(map[string]string{"type": "command", "command": command})
}

// Close tears the stream down.
func (s *ConsoleStream) Close() error {
	return s.conn.Close()
}
