package console

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/types"
)

// ErrNotRunning is returned when a command is injected into a session whose
// process has already exited.
var ErrNotRunning = errors.New("server process is not running")

// Subscriber is one attached console consumer. Lines arrive on Lines();
// the channel closes when the process exits, the session is reaped, or
// the subscriber falls too far behind.
type Subscriber struct {
	ch      chan types.ConsoleLine
	dropped bool
}

// Lines is the live feed. A closed channel means the subscription ended.
func (s *Subscriber) Lines() <-chan types.ConsoleLine { return s.ch }

// Dropped reports whether the subscription was severed because the consumer
// could not keep up with output.
func (s *Subscriber) Dropped() bool { return s.dropped }

// Session is the console transcript and fan-out point for one server
// process. It outlives the process by a grace window so late clients can
// still read the final lines.
type Session struct {
	serverID   int64
	serverName string
	subBuffer  int

	mu      sync.Mutex
	ring    *ring
	subs    map[*Subscriber]bool
	stdin   io.WriteCloser
	exited  bool
	exit    int
	endedAt time.Time
}

func newSession(serverID int64, serverName string, ringSize, subBuffer int, stdin io.WriteCloser) *Session {
	if subBuffer <= 0 {
		subBuffer = 64
	}
	return &Session{
		serverID:   serverID,
		serverName: serverName,
		subBuffer:  subBuffer,
		ring:       newRing(ringSize),
		subs:       make(map[*Subscriber]bool),
		stdin:      stdin,
	}
}

// ServerID returns the owning server's id.
func (s *Session) ServerID() int64 { return s.serverID }

// ServerName returns the owning server's name.
func (s *Session) ServerName() string { return s.serverName }

// Subscribe attaches a consumer and returns it together with the transcript
// so far. The snapshot and the registration happen under one lock: every
// line is either in the snapshot or will arrive on the channel, never both
// and never neither.
func (s *Session) Subscribe() (*Subscriber, []types.ConsoleLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.ring.snapshot()
	sub := &Subscriber{ch: make(chan types.ConsoleLine, s.subBuffer)}
	if s.exited {
		// Late subscriber: full history, no live feed coming.
		close(sub.ch)
		return sub, history
	}
	s.subs[sub] = true
	return sub, history
}

// Unsubscribe detaches a consumer. Safe to call after the session ended.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[sub] {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// WriteCommand injects one command line into the child's stdin and records
// it in the transcript. The trailing newline is added here; callers pass
// the bare command.
func (s *Session) WriteCommand(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited || s.stdin == nil {
		return ErrNotRunning
	}
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	s.pushLocked(types.ConsoleLine{
		Timestamp: time.Now().UTC(),
		Stream:    types.StreamStdin,
		Text:      command,
	})
	return nil
}

// Exited reports whether the process behind this session has exited and
// with which code.
func (s *Session) Exited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exit
}

// Len returns the number of buffered transcript lines.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.len()
}

// SubscriberCount returns the number of attached consumers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// push records a line and fans it out. A subscriber whose buffer is full is
// disconnected on the spot: one stuck consumer must not stall the feed or
// force the others to miss lines.
func (s *Session) push(line types.ConsoleLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(line)
}

func (s *Session) pushLocked(line types.ConsoleLine) {
	s.ring.push(line)
	metrics.ConsoleLines.WithLabelValues(string(line.Stream)).Inc()
	for sub := range s.subs {
		select {
		case sub.ch <- line:
		default:
			sub.dropped = true
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
}

// markExited finalizes the session: a system line is appended, every
// subscriber channel is closed, and stdin is released. The transcript stays
// readable until the registry reaps the session.
func (s *Session) markExited(code int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return
	}
	s.pushLocked(types.ConsoleLine{
		Timestamp: at,
		Stream:    types.StreamSystem,
		Text:      fmt.Sprintf("Server process exited with code %d", code),
	})
	s.exited = true
	s.exit = code
	s.endedAt = at
	s.stdin = nil

	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// expired reports whether an ended session has outlived its grace window.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited && now.Sub(s.endedAt) > ttl
}
