/*
Package reconciler keeps database run-state consistent with the OS process
table.

The supervisor persists which servers are running; the operating system
holds the truth. Processes die out-of-band (kill -9, OOM, host reboot) and
daemons restart with stale rows behind them. The reconciler closes that gap
on a fixed cadence: rows the OS disowns are healed through the exit-callback
chain, and processes the database disowns are reported but never touched.

# Architecture

	┌────────────────── RECONCILER PASS ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │        Stale Row Healing                    │           │
	│  │  - rows with running=true                   │           │
	│  │  - IsAlive(pid)? no → exit chain            │           │
	│  │    (code unknown, not intentional)          │           │
	│  │  - hub-tracked exits left to the watcher    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Disowned Process Report              │           │
	│  │  - hub live ids vs database rows            │           │
	│  │  - row stopped but pid alive → warn only    │           │
	│  │  - never auto-stop                          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Console Session Sweep                │           │
	│  │  - reaps ended sessions past their TTL      │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

One pass runs synchronously at Start, before the API answers status
queries, so a daemon restart heals leftovers immediately. After that the
loop ticks every 10 seconds (configurable).

# Healing Rules

A row is healed when all of these hold:

  - the database says running=true
  - the recorded pid is absent from the process table (or the row has no
    pid at all, which a healthy write path never produces)
  - the console hub does not still track the process

The third condition matters: when a child dies under the hub's watch, the
hub's exit watcher fires the same chain with the real exit code. The
reconciler healing first would record "unknown" and double-publish the
exit. Hub-tracked exits are therefore skipped; the watcher owns them.

Healing applies the lifecycle exit-callback chain, which persists the
stopped fields, publishes ServerExited, and lets hooks such as the crash
watchdog react. The reconciler does not duplicate any of that logic.

# The Inverse Case

A live process whose row says stopped is surfaced with a warning and left
alone. Killing a Minecraft server because a database row disagrees would
destroy player state on what is likely an operator-attached process; the
supervisor never resolves this direction automatically.

# Root Guard

Start logs an advisory warning when the effective principal is elevated
(root or administrator). Running the supervisor elevated is allowed for
plain server operation but service installation and server-directory
deletion refuse elevated principals at their call sites.

# Usage

	rec := reconciler.NewReconciler(store, backend, hub, lifecycleMgr, reconciler.DefaultConfig())
	rec.Start()
	defer rec.Stop()

# Integration Points

This package integrates with:

  - pkg/storage: running-row listing and server reads
  - pkg/platform: IsAlive process-table probes
  - pkg/console: live-entry inspection and session sweep
  - pkg/lifecycle: ApplyExitChain for healing
  - pkg/metrics: msm_reconcile_heals_total, msm_reconcile_duration_seconds

# Performance Characteristics

Pass Cost:
  - One ListRunningServers query
  - One process-table probe per running row
  - One GetServer per live hub entry
  - Tens of servers: single-digit milliseconds

Failure Isolation:
  - Store errors abort the sub-step, never the loop
  - A heal that fails to persist logs and retries next pass
  - The pass never blocks on lifecycle operations

# See Also

  - pkg/lifecycle: the exit-callback chain applied by heals
  - pkg/console: the hub whose watcher handles observed exits
*/
package reconciler
