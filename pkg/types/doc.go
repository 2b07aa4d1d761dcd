/*
Package types defines the core data structures shared by every part of
the supervisor.

This package contains the domain model: managed servers, backups,
schedules, plugins, API keys, Java runtimes, console lines, and the
request shapes the HTTP API accepts. Every other package depends on it
and it depends on nothing but the standard library, which keeps the
dependency graph acyclic.

# Architecture

The types package is the foundation of the data model. It defines:

  - Server catalog rows (distro, version, port, memory, run state)
  - Backup records with kind (manual, scheduled, pre-restore) and status
  - Cron schedules and their actions
  - Installed plugins and their registry provenance
  - API keys (hash only; the raw secret never persists)
  - Java runtime descriptions
  - Console line and live status wire shapes
  - Create/Update spec types carried by the HTTP API

All types are designed to be:
  - Serializable: one struct serves sqlx (`db` tags) and JSON (`json` tags)
  - Self-validating: enums expose Valid() so checks live next to the values
  - Plain data: no behavior beyond small pure helpers

# Core Types

Catalog:
  - Server: one managed Minecraft server and its desired/observed state
  - Distro: paper, vanilla, fabric, purpur, forge
  - Backup, BackupKind, BackupStatus: archive records and their lifecycle
  - Schedule, ScheduleAction: cron definitions (backup, restart, start,
    stop, command)
  - Plugin, PluginSource: installed jars and where they came from
  - APIKey, Permission: authentication records and the read/write/admin
    tiers

Live views (never stored):
  - ServerStatus: running flag, PID, uptime, CPU, memory, port probe
  - ConsoleLine: one timestamped stdout/stderr line
  - JavaInstall: a usable java binary with vendor and major version

API specs:
  - CreateServerSpec, ImportServerSpec, UpdateServerSpec
  - CreateScheduleSpec, UpdateScheduleSpec

# Design Patterns

Enumeration pattern:

	Enums are typed string constants so raw strings from the database or
	JSON can be checked in one place:

	  type Distro string
	  const (
	      DistroPaper   Distro = "paper"
	      DistroVanilla Distro = "vanilla"
	  )
	  func (d Distro) Valid() bool

Patch pattern:

	Update specs use pointer fields where nil means "leave unchanged",
	so a PATCH body can carry exactly the fields the caller wants moved:

	  type UpdateScheduleSpec struct {
	      Cron    *string `json:"cron,omitempty"`
	      Enabled *bool   `json:"enabled,omitempty"`
	  }

Observed state:

	Server.Running and Server.PID record the supervisor's last claim
	about the OS; the reconciler owns correcting them when the process
	table disagrees. Consumers that need the truth right now ask the
	lifecycle engine for a ServerStatus instead of trusting the row.

# Validation

Key rules enforced by consumers of these types:

Servers:
  - Name matches ^[A-Za-z0-9_-]{1,64}$ and is unique
  - Port is 1-65535 and unique among managed servers
  - Memory is of the form 512M..64G
  - Distro and version are immutable after creation

Schedules:
  - Cron expressions use the standard five fields
  - Command actions require a non-empty payload

API keys:
  - Permissions is one of read, write, admin; Allows() ranks them
  - KeyHash is the SHA-256 of the secret; JSON never exposes it

# Thread Safety

Types here are plain data with no internal locking. Instances read from
storage are fresh copies and safe to read concurrently; mutation is the
caller's problem. The storage layer serializes writes, and long-lived
components copy rather than share rows across goroutines.

# See Also

  - pkg/storage for how these rows persist
  - pkg/api for the HTTP surface that carries the request specs
  - pkg/lifecycle for the engine that moves Server state
*/
package types
