/*
Package watchdog restarts crashed servers that opted in via the
restart_on_crash flag.

A Minecraft server dying from an OutOfMemoryError at 3am should come back
without an operator. A server the operator just stopped should stay down.
The watchdog sits on the event bus and tells those two cases apart using
the Intentional flag the lifecycle engine stamps on every ServerExited
event.

# Architecture

	                 ┌──────────────┐
	  ServerExited   │              │   intentional / stopped / deleted
	  ─────────────▶ │  Event Loop  │ ──────────────▶ Cancel(id)
	                 │              │
	                 └──────┬───────┘
	                        │ crash, restart_on_crash=true
	                        ▼
	                 ┌──────────────┐
	                 │  crashState  │  backoff: 30s → 60s → … → 10m cap
	                 │  per server  │  clean run ≥ 10m resets to base
	                 └──────┬───────┘
	                        │ time.AfterFunc(delay)
	                        ▼
	                 ┌──────────────┐
	                 │    fire()    │  re-read row, then lifecycle.Start
	                 └──────────────┘

# Backoff

Each server carries its own schedule. The first crash waits BaseBackoff
(30s); every further crash doubles the wait up to MaxBackoff (10m). A
crash-looping server with a corrupt world converges to one attempt every
ten minutes instead of a hot spin. Once a restarted server stays up for
ResetAfter (10m), the next crash is treated as fresh and waits the base
delay again.

# Cancellation

Pending restarts are dropped when:

  - the exit was intentional (operator stop, supervisor shutdown)
  - a ServerStopped or ServerDeleted event arrives
  - the API layer calls Cancel directly on operator stop/delete
  - the watchdog itself shuts down

Intentional exits also clear the server's crash history. An operator
stopping and starting a flaky server signals a fix attempt; the next
crash starts from the base delay.

# Fire-Time Revalidation

The world can change during the backoff window, so fire re-reads the row
before acting:

  - row gone → server was deleted, state dropped
  - restart_on_crash cleared → operator opted out, state dropped
  - already running → operator beat the watchdog, nothing to do

A failed start attempt (missing jar, bad java path) re-arms with the
doubled delay rather than giving up, because transient causes such as a
fetch-in-progress resolve themselves.

# Usage

	dog := watchdog.New(store, lifecycleMgr, broker, watchdog.DefaultConfig())
	dog.Start()
	defer dog.Stop()

	// API stop handler:
	dog.Cancel(serverID)

# Integration Points

This package integrates with:

  - pkg/events: ServerExited, ServerStopped and ServerDeleted subscriptions
  - pkg/lifecycle: the Start call that performs the actual restart
  - pkg/storage: restart_on_crash and running-row revalidation
  - pkg/metrics: msm_crash_restarts_total on every successful restart
  - pkg/api: Cancel wiring on operator-initiated stop and delete

# Performance Characteristics

  - One GetServer read per crash event and one per fire
  - One goroutine for the event loop; timers are free until they fire
  - State is held only for servers that crashed at least once

# See Also

  - pkg/lifecycle: stamps Intentional on exits and performs starts
  - pkg/reconciler: heals rows for exits nothing observed
*/
package watchdog
