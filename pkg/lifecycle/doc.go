/*
Package lifecycle is the supervisor's engine: it owns server records and
the processes behind them, from provisioning through start, stop and
deletion.

# Architecture

The Manager composes the layers below it and is the only writer of a
server's run state:

	                ┌──────────────────────┐
	   API, CLI ───▶│ lifecycle.Manager    │
	                └──────────┬───────────┘
	        ┌──────────┬───────┼────────┬──────────┐
	        ▼          ▼       ▼        ▼          ▼
	   storage     platform  console  distro     fetch
	   (records)   (spawn,   (adopt,  (resolve   (download
	                signal,   fan-out) artifact)  + verify)
	                ports)

Every mutation follows the same shape: read and validate the record in a
transaction, act on the operating system, then persist the observed
outcome. The database stores what was seen, not what was wished for.

# Provisioning

Create validates the spec, claims the name and port, resolves the distro
artifact for the requested version, downloads it with digest
verification, and lays down the server directory (server.jar, eula.txt,
server.properties). The EULA file is written unaccepted; flipping it to
true is the operator's act, and Start refuses until that happens.

Import adopts an existing directory instead: it looks for a plausible
server jar (findServerJar knows the common names and falls back to
scanning for a manifest main class) and registers the directory without
touching its contents.

# Start

Start trusts a running claim only if the OS confirms the pid, healing
stale state inline rather than failing the request. It then ensures the
jar exists, checks the EULA, probes the port, spawns the child with the
server directory as working directory, and adopts the process into the
console registry before persisting pid and start time.

# Stop

Stop escalates in three stages, each bounded by the grace budget: the
in-game "stop" command over stdin, then a graceful signal, then a forced
kill. Most servers flush their world on stage one; the later stages
exist for wedged JVMs. The exit itself is reported by the console
registry's watcher, which runs the exit chain (persist the stop, publish
the event, let the watchdog decide about a restart).

# Deletion

Delete refuses while the process is alive. With keepFiles the directory
survives for later Import; otherwise it is removed after a path sanity
check that the target really lives under the servers root.
*/
package lifecycle
