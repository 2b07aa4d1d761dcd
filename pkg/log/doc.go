/*
Package log provides structured logging for the supervisor, built on
zerolog.

Every component logs through this package so output is uniform: a
human-readable console format by default, JSON when the daemon runs
under a log collector. The zero-allocation zerolog core keeps logging
out of the hot paths (console fan-out handles every line a server
prints).

# Usage

Initialize once at daemon startup:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
	})

Then take a tagged child logger per component:

	logger := log.WithComponent("lifecycle")
	logger.Info().
		Int64("server_id", srv.ID).
		Int32("pid", pid).
		Msg("server started")

# Tagged Loggers

Three helpers attach the fields log consumers key on:

  - WithComponent(name): every subsystem logs under its component tag
    (lifecycle, reconciler, scheduler, backup, api, auth, watchdog)
  - WithServer(id, name): per-server operations carry both the row id
    and the human name
  - WithSchedule(id): scheduled dispatches tie their lines to the
    schedule that fired

Child loggers are values; taking one per object at construction time is
cheaper and tidier than re-tagging on every call.

# Output Formats

Console (default, for a terminal):

	2026-08-25T10:11:12Z INF server started component=lifecycle server_id=3 pid=41234

JSON (--log-json, for collectors):

	{"level":"info","component":"lifecycle","server_id":3,"pid":41234,"time":"2026-08-25T10:11:12Z","message":"server started"}

# Levels

Levels map onto zerolog's: debug, info, warn, error. The level is
global; per-request noise (one line per API call) sits at debug so a
production daemon at info stays quiet unless something changes state.

# Thread Safety

zerolog loggers are immutable values and safe for concurrent use. Init
must run before the first log call and is not safe to race with loggers
already in use, so the daemon calls it first thing in main.
*/
package log
