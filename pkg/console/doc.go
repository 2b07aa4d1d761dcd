/*
Package console fans server process output out to any number of live
subscribers while keeping a bounded replay buffer per server.

# Architecture

The package sits between the process layer and everything that wants to
read or write a server's console (the WebSocket API, the watchdog, log
capture):

	platform.Child (stdout/stderr)
	        │
	        ▼
	┌───────────────────────────────┐
	│ Registry                      │
	│  ├─ Session (server 1)        │
	│  │    ├─ ring (last N lines)  │
	│  │    └─ subscribers          │
	│  ├─ Session (server 2)        │
	│  └─ ...                       │
	└───────────────────────────────┘
	        │
	        ▼
	WebSocket clients, exit handler

One Session exists per adopted process. Two goroutines per session pump
stdout and stderr into the session line by line; a third blocks on
Wait() and reports the exit.

# Adoption

The lifecycle engine hands a freshly spawned process to Adopt, which
wires the pumps and the exit watcher. Child is a small interface rather
than a concrete process type so tests can adopt pipes of their own
making. When the process exits the registry invokes the ExitFunc exactly
once, carrying the exit code and whether the supervisor itself asked for
the exit (MarkIntentional). The watchdog uses that flag to tell a crash
from a clean stop.

# Replay and fan-out

Every line lands in a fixed-size ring (RingSize, default 2000). A new
subscriber receives the ring's contents as a snapshot, then live lines
on a buffered channel. Delivery never blocks the pumps: a subscriber
whose buffer is full has the line dropped and its Dropped flag set, so a
slow WebSocket client cannot stall the process's stdout.

# Reaping

Sessions outlive their process on purpose. A client that connects just
after a crash still gets the final screen of output. The sweep loop
reaps exited sessions after SweepTTL with no subscribers.

# Thread Safety

Registry and Session are safe for concurrent use. WriteCommand returns
ErrNotRunning once the process has exited.
*/
package console
