/*
Package storage persists the supervisor's catalog in a single SQLite
file.

The catalog is the durable record of intent and last-observed state:
servers, backups, schedules, plugins, and API keys. Everything else the
daemon knows (live PIDs, console rings, pending restarts) is
reconstructed at startup from this file plus the OS process table.

# Architecture

	┌──────────────────────────────────────────────────┐
	│                    Store                          │
	│  reads: GetServer, ListServers, GetBackup, ...   │
	│  writes: WithTx(func(tx *Tx) error)              │
	└──────────────────────┬───────────────────────────┘
	                       │
	            ┌──────────▼──────────┐
	            │     SQLiteStore      │
	            │  sqlx over modernc   │
	            │  1 connection, WAL   │
	            └──────────┬──────────┘
	                       │
	                 msm.sqlite

The driver is modernc.org/sqlite, a pure-Go translation: the daemon
cross-compiles for every platform it supervises without cgo. sqlx
handles struct scanning against the `db` tags on pkg/types.

# Transactions

All mutations go through WithTx, which commits when the callback
returns nil and rolls back on error or panic:

	err := store.WithTx(func(tx *storage.Tx) error {
	    srv, err := tx.GetServer(id)
	    if err != nil {
	        return err
	    }
	    if srv.Running {
	        return apierr.AlreadyRunning(srv.Name)
	    }
	    return tx.MarkServerStarted(id, pid, time.Now().UTC())
	})

Check-then-act sequences (name uniqueness, port claims, run-state
transitions) stay inside one scope so two API calls cannot interleave
between the check and the write. Reads that need no such guarantee use
the one-shot Store methods, which open their own scope.

The pool is capped at a single connection. Concurrent scopes serialize
on the pool instead of racing into SQLITE_BUSY, and the busy_timeout
pragma covers the rest. A local supervisor's write rate never makes
this the bottleneck.

# Results Are Snapshots

Every query scans into fresh structs. Nothing handed out is backed by
database memory, so callers may hold results across scopes and after
Close. The flip side: a held row does not see later writes.

# Not Found

Lookups that miss return ErrNotFound, wrapped with context. Callers
test with storage.IsNotFound and translate into their own taxonomy
(the API layer turns it into a 404 envelope).

# Migrations

The schema carries a version number. NewSQLiteStore applies pending
migrations on open, so the daemon upgrades its own database; the
msm-migrate tool runs the same steps out of band for operators who
want a dry run and a backup first. Migrations only ever move forward.

# See Also

  - pkg/types for the row shapes
  - cmd/msm-migrate for the standalone migration tool
*/
package storage
