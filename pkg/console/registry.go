package console

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/types"
)

// Child is the process surface the registry drives: stream handles, the
// pid, and a blocking wait. *platform.Child satisfies it; tests substitute
// their own.
type Child interface {
	PID() int32
	Stdout() io.Reader
	Stderr() io.Reader
	Stdin() io.WriteCloser
	Wait() int
}

// ExitFunc is invoked exactly once when an adopted process exits.
// Intentional reports whether the supervisor itself asked for the exit.
type ExitFunc func(serverID int64, serverName string, exitCode int, intentional bool)

// Config tunes the registry.
type Config struct {
	RingSize         int
	SubscriberBuffer int
	SweepInterval    time.Duration
	SweepTTL         time.Duration
}

// DefaultConfig returns the standard registry tuning.
func DefaultConfig() Config {
	return Config{
		RingSize:         2000,
		SubscriberBuffer: 64,
		SweepInterval:    30 * time.Second,
		SweepTTL:         10 * time.Minute,
	}
}

type entry struct {
	session     *Session
	child       Child
	live        bool
	intentional atomic.Bool
}

// Registry tracks every adopted server process and its console session.
// Sessions linger after exit until the sweep loop reaps them, so clients
// arriving shortly after a crash still see the final output.
type Registry struct {
	cfg    Config
	onExit ExitFunc

	mu      sync.RWMutex
	entries map[int64]*entry
	stopCh  chan struct{}
}

// NewRegistry creates a registry with the given tuning. Zero values in cfg
// fall back to defaults.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.RingSize <= 0 {
		cfg.RingSize = def.RingSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SweepTTL <= 0 {
		cfg.SweepTTL = def.SweepTTL
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[int64]*entry),
		stopCh:  make(chan struct{}),
	}
}

// SetExitHandler installs the exit callback. Must be called before the
// first Adopt.
func (r *Registry) SetExitHandler(fn ExitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExit = fn
}

// Start begins the background sweep loop.
func (r *Registry) Start() {
	go r.run()
}

// Stop halts the sweep loop. Adopted processes are not touched.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// Adopt wires a freshly spawned process into the registry: a new console
// session, one reader per output stream, and a waiter that fires the exit
// callback. Any lingering session for the same server is replaced.
func (r *Registry) Adopt(serverID int64, serverName string, child Child) *Session {
	session := newSession(serverID, serverName, r.cfg.RingSize, r.cfg.SubscriberBuffer, child.Stdin())
	e := &entry{session: session, child: child, live: true}

	r.mu.Lock()
	if old, ok := r.entries[serverID]; ok && old.live {
		// Should not happen: the lifecycle serializes per-server starts.
		logger := log.WithComponent("console")
		logger.Warn().Int64("server_id", serverID).Msg("replacing live console entry")
	}
	r.entries[serverID] = e
	r.mu.Unlock()

	go r.readStream(session, types.StreamStdout, child.Stdout())
	go r.readStream(session, types.StreamStderr, child.Stderr())
	go r.watch(e)

	return session
}

// Session returns the console session for a server, live or lingering.
func (r *Registry) Session(serverID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serverID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Live reports whether the registry holds a running process for the server.
func (r *Registry) Live(serverID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serverID]
	return ok && e.live
}

// LiveCount returns the number of running adopted processes.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.live {
			n++
		}
	}
	return n
}

// LiveIDs returns the server ids with a running adopted process.
func (r *Registry) LiveIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id, e := range r.entries {
		if e.live {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sweep reaps ended sessions past their grace window immediately, outside
// the regular sweep cadence. The reconciler calls it each pass.
func (r *Registry) Sweep(now time.Time) int {
	return r.sweep(now)
}

// SubscriberTotal returns the number of attached console subscribers
// across all sessions, live or lingering.
func (r *Registry) SubscriberTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		n += e.session.SubscriberCount()
	}
	return n
}

// MarkIntentional flags the next exit of this server as supervisor
// initiated. Stop and restart call it before signalling.
func (r *Registry) MarkIntentional(serverID int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[serverID]; ok {
		e.intentional.Store(true)
	}
}

// WriteCommand injects a command into the server's live console.
func (r *Registry) WriteCommand(serverID int64, command string) error {
	r.mu.RLock()
	e, ok := r.entries[serverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRunning
	}
	return e.session.WriteCommand(command)
}

// Detach drops a server's entry immediately, live or not. Delete uses it
// after the process is already down.
func (r *Registry) Detach(serverID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, serverID)
}

func (r *Registry) run() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		case <-r.stopCh:
			return
		}
	}
}

// sweep reaps ended sessions past their grace window and returns how many
// it removed.
func (r *Registry) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		if !e.live && e.session.expired(now, r.cfg.SweepTTL) {
			delete(r.entries, id)
			removed++
		}
	}
	if removed > 0 {
		logger := log.WithComponent("console")
		logger.Debug().Int("sessions", removed).Msg("reaped expired console sessions")
	}
	return removed
}

func (r *Registry) readStream(session *Session, stream types.Stream, src io.Reader) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		session.push(types.ConsoleLine{
			Timestamp: time.Now().UTC(),
			Stream:    stream,
			Text:      scanner.Text(),
		})
	}
	// EOF or a scan error both mean the pipe is done; the waiter owns the
	// exit bookkeeping.
}

func (r *Registry) watch(e *entry) {
	code := e.child.Wait()
	now := time.Now().UTC()

	e.session.markExited(code, now)

	r.mu.Lock()
	if cur, ok := r.entries[e.session.serverID]; ok && cur == e {
		e.live = false
	}
	onExit := r.onExit
	r.mu.Unlock()

	intentional := e.intentional.Load()
	logger := log.WithComponent("console")
	logger.Info().
		Int64("server_id", e.session.serverID).
		Str("server", e.session.serverName).
		Int("exit_code", code).
		Bool("intentional", intentional).
		Msg("server process exited")

	if onExit != nil {
		onExit(e.session.serverID, e.session.serverName, code, intentional)
	}
}
