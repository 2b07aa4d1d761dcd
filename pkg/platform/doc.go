/*
Package platform isolates every operating system difference behind one
Backend so the rest of the supervisor can be written once.

# Responsibilities

  - Spawn: launch a java child detached from the daemon's terminal, in
    its own process group (job object on Windows), with pipes on all
    three standard streams.
  - Signals: SignalGraceful and SignalForce map to SIGTERM/SIGKILL on
    Unix and to the closest Windows equivalents. Signals address the
    whole group so a wrapper shell cannot orphan the JVM.
  - Liveness: IsAlive answers whether a pid is still the process we
    think it is. It cross-checks the process name against the java
    executable so a recycled pid is not mistaken for a running server.
    NewWithNameHint overrides the expected name for tests that spawn
    shell scripts instead of java.
  - ProcessStats: CPU and memory for a pid, via gopsutil.
  - CheckPort: reports whether a TCP port is free and, where the OS
    allows, which pid holds it.
  - DiscoverJava/ProbeJava: find installed Java runtimes by globbing
    the conventional per-OS locations and probing `java -version`.
  - DataRoot: the per-OS default data directory (XDG on Linux,
    Application Support on macOS, ProgramData on Windows).

# Build Layout

platform.go, ports.go and java.go are portable. platform_unix.go covers
the shared Unix surface; platform_linux.go, platform_darwin.go and
platform_windows.go hold what genuinely differs (data roots, java search
globs, process group handling). No other package may import syscall for
process work.
*/
package platform
