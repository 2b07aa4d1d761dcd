// Package scheduler fires stored cron schedules against running components.
//
// The scheduler turns persisted Schedule rows into lifecycle actions, backups
// and console commands at their cron-determined fire times. Fire times are
// precomputed with robfig/cron and persisted as next_run, so the dispatch loop
// only compares timestamps; a daemon restart never replays fires that came due
// while it was down.
//
// # Architecture
//
//	┌──────────────────── SCHEDULER ───────────────────────────┐
//	│                                                            │
//	│  ┌────────────────────────────────────────────┐           │
//	│  │              Prime (startup)                │           │
//	│  │  - List enabled schedules                   │           │
//	│  │  - next_run = first fire after now          │           │
//	│  │  - Past fires skipped, never replayed       │           │
//	│  └──────────────────┬─────────────────────────┘           │
//	│                     │                                      │
//	│  ┌──────────────────▼─────────────────────────┐           │
//	│  │          Dispatch Loop (1s tick)            │           │
//	│  │  - List enabled schedules                   │           │
//	│  │  - Due when now >= next_run                 │           │
//	│  └──────────────────┬─────────────────────────┘           │
//	│                     │ due                                  │
//	│  ┌──────────────────▼─────────────────────────┐           │
//	│  │             Claim (one scope)               │           │
//	│  │  - Re-read row, confirm enabled + due       │           │
//	│  │  - last_run = now                           │           │
//	│  │  - next_run = first fire after now          │           │
//	│  │  - In-flight check per (server, action)     │           │
//	│  └──────────────────┬─────────────────────────┘           │
//	│                     │ claimed                              │
//	│  ┌──────────────────▼─────────────────────────┐           │
//	│  │          Dispatch (goroutine)               │           │
//	│  │                                              │           │
//	│  │  start/stop/restart → lifecycle engine      │           │
//	│  │  backup             → backup manager        │           │
//	│  │  command            → console hub stdin     │           │
//	│  └────────────────────────────────────────────┘           │
//	└────────────────────────────────────────────────────────────┘
//
// # Core Components
//
// Cron Parsing:
//   - Standard 5-field expressions: minute hour dom month dow
//   - Ranges (1-5), lists (0,12), steps (*/5)
//   - DOM/DOW OR rule as classic cron
//   - ValidateCron for API/CLI validation, NextAfter for fire times
//
// Dispatch Loop:
//   - 1 second ticker (configurable)
//   - Due check is a timestamp comparison, no cron math on the hot path
//   - One failing action is logged and counted, never stalls the loop
//
// Claim Scope:
//   - Re-reads the schedule inside one store transaction
//   - Confirms it is still enabled and still due
//   - Advances last_run/next_run before the action runs
//   - Guarantees next_run strictly after last_run
//
// In-Flight Deduplication:
//   - At most one running action per (server_id, action) pair
//   - Duplicate fires dropped with a warning and a skipped counter
//   - Slot released when the action finishes, success or not
//
// # Actions
//
// start, stop, restart:
//   - Delegate to the lifecycle engine
//   - Stop and restart use the configured stop grace
//
// backup:
//   - Reads the server row, archives via the backup manager
//   - Recorded with kind "scheduled"
//
// command:
//   - Payload is either a raw command string or JSON {"command": "..."}
//   - Injected into the server console through the hub
//
// # Usage
//
// Creating and validating schedules:
//
//	if err := scheduler.ValidateCron("0 4 * * *"); err != nil {
//		return err
//	}
//	next, _ := scheduler.NextAfter("0 4 * * *", time.Now().UTC())
//
// Running the scheduler:
//
//	sched := scheduler.NewScheduler(store, lifecycle, backups, hub, broker, scheduler.DefaultConfig())
//	sched.Start()
//	defer sched.Stop()
//
// Command payloads:
//
//	cmd, err := scheduler.CommandPayload(`{"command": "save-all"}`)
//	// cmd == "save-all"
//
// # Integration Points
//
// This package integrates with:
//
//   - pkg/storage: Schedule rows, claim scopes, fire bookkeeping
//   - pkg/lifecycle: start/stop/restart actions
//   - pkg/backup: scheduled archive creation
//   - pkg/console: command injection through the hub
//   - pkg/events: publishes schedule.fired
//   - pkg/metrics: msm_scheduled_runs_total{action, outcome}
//   - robfig/cron/v3: expression parsing and next-fire computation
//
// # Design Patterns
//
// Persisted Fire Times:
//   - next_run is stored, not recomputed per tick
//   - The due check is cheap and restart-safe
//   - Fires missed while the daemon was down are skipped at prime
//
// Claim Then Dispatch:
//   - The row is advanced before the action starts
//   - A crash mid-action never causes a double fire on restart
//   - The action runs outside the store scope; slow backups hold no locks
//
// Bounded Dispatch:
//   - Every action runs under a 15 minute timeout (configurable)
//   - Stop-style actions get the lifecycle stop grace
//
// # Edge Cases
//
// Disabled mid-flight:
//   - A schedule disabled between the due check and the claim is skipped;
//     the claim scope re-reads and confirms enabled.
//
// Invalid cron in storage:
//   - Rows with unparseable expressions are logged at prime and skipped;
//     the API validates expressions on create, so this indicates manual
//     database edits.
//
// Duplicate due schedules:
//   - Two schedules with the same server and action both due in one tick:
//     the first claims, the second drops and fires on a later tick once
//     the slot frees.
//
// Clock adjustments:
//   - Fire times are computed in UTC from the wall clock; a backwards jump
//     delays fires until the clock catches up, it never double-fires
//     (next_run is only ever moved forward by a claim).
//
// # Performance Characteristics
//
// Tick Cost:
//   - One indexed SELECT per tick (enabled schedules)
//   - Timestamp comparisons only; cron parsed at claim time
//   - Sub-millisecond for hundreds of schedules
//
// Dispatch Concurrency:
//   - One goroutine per in-flight action
//   - Bounded by the per-(server, action) dedup
//   - A wedged action times out via its context deadline
//
// # See Also
//
//   - pkg/lifecycle: the actions behind start/stop/restart
//   - pkg/backup: scheduled archive semantics
//   - robfig/cron documentation: https://pkg.go.dev/github.com/robfig/cron/v3
package scheduler
