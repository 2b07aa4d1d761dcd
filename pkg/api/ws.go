package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/types"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is the one envelope for every server-to-client console message.
// Type selects which optional fields are populated:
//
//	history        Lines
//	output         Data
//	heartbeat      -
//	command_ack    Success, Command, Message on failure
//	server_stopped ExitCode
//	error          Message
type wsFrame struct {
	Type     string              `json:"type"`
	Lines    []types.ConsoleLine `json:"lines,omitempty"`
	Data     *types.ConsoleLine  `json:"data,omitempty"`
	Success  *bool               `json:"success,omitempty"`
	Command  string              `json:"command,omitempty"`
	Message  string              `json:"message,omitempty"`
	ExitCode *int                `json:"exit_code,omitempty"`
}

// wsClientMsg is what clients may send: command injection and heartbeat
// pongs. Anything else is ignored.
type wsClientMsg struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// handleConsoleWS attaches one WebSocket client to a server's console
// session. The full ring history is sent first, then live lines as they
// arrive. All socket writes happen on this goroutine; a separate reader
// goroutine feeds command acks in through a channel, per the transport's
// single-writer rule.
func (s *Server) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Store.GetServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Refuse before upgrading so the client gets a proper HTTP status
	// instead of a half-open socket.
	session, ok := s.deps.Hub.Session(id)
	if !ok {
		s.writeError(w, r, apierr.AlreadyStopped(srv.Name))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		s.logger.Debug().Err(err).Int64("server_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, history := session.Subscribe()
	defer session.Unsubscribe(sub)

	logger := log.WithServer(id, srv.Name)
	logger.Debug().Int("history_lines", len(history)).Msg("console subscriber attached")

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	acks := make(chan wsFrame, 16)
	readerDone := make(chan struct{})
	go readConsoleClient(conn, session, acks, &lastSeen, readerDone)

	if err := writeFrame(conn, wsFrame{Type: "history", Lines: history}); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case line, ok := <-sub.Lines():
			if !ok {
				s.closeConsoleClient(conn, session, sub)
				return
			}
			if err := writeFrame(conn, wsFrame{Type: "output", Data: &line}); err != nil {
				return
			}
		case ack := <-acks:
			if err := writeFrame(conn, ack); err != nil {
				return
			}
		case <-heartbeat.C:
			idle := time.Since(time.Unix(0, lastSeen.Load()))
			if idle > 2*s.cfg.Heartbeat {
				logger.Debug().Dur("idle", idle).Msg("console client missed heartbeats, disconnecting")
				return
			}
			if err := writeFrame(conn, wsFrame{Type: "heartbeat"}); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

// readConsoleClient drains inbound frames until the socket errors. Command
// results go back through acks; the writer goroutine owns the socket.
func readConsoleClient(conn *websocket.Conn, session *console.Session, acks chan<- wsFrame, lastSeen *atomic.Int64, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Any inbound traffic proves the client is alive.
		lastSeen.Store(time.Now().UnixNano())

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "command" {
			continue
		}

		ack := wsFrame{Type: "command_ack", Command: msg.Command}
		ok := true
		if strings.TrimSpace(msg.Command) == "" {
			ok = false
			ack.Message = "empty command"
		} else if err := session.WriteCommand(msg.Command); err != nil {
			ok = false
			ack.Message = err.Error()
		}
		ack.Success = &ok
		select {
		case acks <- ack:
		default:
			// Writer gone or saturated; the command itself already ran.
		}
	}
}

// closeConsoleClient explains why the feed ended, then closes politely.
func (s *Server) closeConsoleClient(conn *websocket.Conn, session *console.Session, sub *console.Subscriber) {
	switch {
	case sub.Dropped():
		_ = writeFrame(conn, wsFrame{Type: "error", Message: "client fell behind console output, reconnect to resume"})
	default:
		if exited, code := session.Exited(); exited {
			_ = writeFrame(conn, wsFrame{Type: "server_stopped", ExitCode: &code})
		} else {
			_ = writeFrame(conn, wsFrame{Type: "error", Message: "console session closed"})
		}
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}
