/*
Package api implements the REST and WebSocket surface of the supervisor.

The api package is how every client reaches the daemon: the bundled CLI, a
browser dashboard, curl, and the declarative apply path all speak the same
JSON API. It binds the lifecycle engine, backup manager, scheduler storage,
plugin manager, and console hub behind a chi router with key-based
authorization.

# Architecture

The server is a thin translation layer; domain rules live in the managers
it fronts:

	┌──────────────────── CLIENT (CLI/browser) ──────────────────┐
	│                                                             │
	│   HTTP JSON + X-API-Key          WebSocket (console)        │
	└──────────┬──────────────────────────────┬──────────────────┘
	           │                              │
	┌──────────▼──────────────────────────────▼──────────────────┐
	│                     chi Router (pkg/api)                    │
	│                                                             │
	│   RequestID → RealIP → logRequests → Recoverer → CORS       │
	│             → recordMetrics → requirePermission             │
	│                                                             │
	│  ┌───────────┬───────────┬───────────┬──────────────────┐  │
	│  │ servers   │ backups   │ schedules │ plugins/java/keys │  │
	│  └─────┬─────┴─────┬─────┴─────┬─────┴─────┬────────────┘  │
	└────────┼───────────┼───────────┼───────────┼───────────────┘
	         │           │           │           │
	   lifecycle     backup      storage     plugins/javamgr
	    engine       manager      store        auth manager
	         │
	   console.Registry ◄── websocket fan-out (history + live)

Handlers depend on narrow interfaces (Engine, BackupService,
PluginService, JavaService, VersionService, RestartCanceller) so tests
drive the full router with fakes while production wires the concrete
managers.

# Routes

All routes live under /api/v1. Authorization tiers nest: admin implies
write implies read.

Unauthenticated:
  - GET /health: liveness and daemon uptime
  - GET /metrics: Prometheus scrape target

Read tier:
  - GET /servers, /servers/{id}, /servers/{id}/status
  - GET /servers/{id}/console/ws: WebSocket console stream
  - GET /servers/{id}/backups, /backups
  - GET /servers/{id}/schedules, /schedules
  - GET /servers/{id}/plugins, /plugins/search
  - GET /servers/{id}/properties
  - GET /versions/{distro}, /java

Write tier:
  - POST /servers, /servers/import
  - PATCH/DELETE /servers/{id}
  - POST /servers/{id}/start, /stop, /restart
  - PATCH /servers/{id}/properties
  - POST /servers/{id}/backups, /servers/{id}/backups/prune
  - POST /backups/{id}/restore, DELETE /backups/{id}
  - POST /servers/{id}/schedules, PATCH/DELETE /schedules/{id}
  - POST /servers/{id}/plugins, enable/disable/DELETE per plugin
  - POST /java/install

Admin tier:
  - GET/POST /apikeys, DELETE /apikeys/{id}

# Error Envelope

Every failure renders the same shape with the taxonomy from pkg/apierr:

	{"error": {"code": "port_in_use", "message": "...", "details": {...}}}

The HTTP status derives from the error kind: validation 400, unauthorized
401, security 403, not found 404, conflict 409, resource 500. Handlers
pass raw errors to one render path, so a storage not-found can never leak
as a 500.

# Authorization

The API is open until the first key is issued: a fresh install works with
zero configuration, and issuing one key flips the whole surface to
enforced. Keys ride the X-API-Key header, or the api_key query parameter
for browser WebSocket clients, which cannot set headers on dials.
Verification is constant-time against a stored SHA-256; see pkg/auth.

# Console WebSocket

GET /servers/{id}/console/ws upgrades to a bidirectional console stream.
The server refuses before upgrading (409) when no session exists, so
clients get a real HTTP status instead of a dead socket.

Server to client frames, tagged by "type":

	history        {"type":"history","lines":[...]}        on attach
	output         {"type":"output","data":{...}}          one live line
	heartbeat      {"type":"heartbeat"}                    liveness probe
	command_ack    {"type":"command_ack","success":true,"command":"..."}
	server_stopped {"type":"server_stopped","exit_code":0} process exited
	error          {"type":"error","message":"..."}        stream ended

Client to server:

	command        {"type":"command","command":"say hi"}
	pong           {"type":"pong"}                         heartbeat reply

The history frame always comes first and is atomic with the live
subscription: a line arrives in the snapshot or on the stream, never both
and never neither. Heartbeats fire every 20 seconds; a client that lets
two intervals pass without any inbound traffic is disconnected. All
writes happen on a single goroutine per connection; the reader goroutine
forwards command acks through a channel.

# Usage

	deps := api.Deps{
		Store:    store,
		Engine:   engine,
		Backups:  backups,
		Plugins:  pluginMgr,
		Java:     javaMgr,
		Versions: distroIndex,
		Hub:      hub,
		Auth:     authMgr,
		Health:   tracker,
		Watchdog: dog,
	}
	srv := api.NewServer(api.DefaultConfig("127.0.0.1:8765"), deps)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	// on shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)

# Integration Points

  - cmd/msm: builds Deps from the wired managers and runs the server
  - pkg/client: the Go client the CLI uses against this surface
  - pkg/auth: key issuance and verification behind requirePermission
  - pkg/console: session registry behind the WebSocket handler
  - pkg/metrics: request counters and latency histograms per method
  - pkg/apierr: the error taxonomy rendered by writeError

# Performance Characteristics

  - Handler overhead: JSON encode/decode plus one or two store reads
  - WebSocket fan-out: one goroutine pair per attached client; a slow
    client is dropped by the hub, never backpressuring the child process
  - Stop: graceful drain through http.Server.Shutdown; the console
    streams end when their sessions close
  - Mutating handlers run under a request timeout; the console stream is
    exempt and bounded by its heartbeat instead

# See Also

  - pkg/lifecycle: the engine behind server CRUD and start/stop
  - pkg/backup: archive creation and restore behind the backup routes
  - pkg/scheduler: fires the schedules these routes manage
  - pkg/watchdog: crash restarts cancelled by stop and delete routes
*/
package api
