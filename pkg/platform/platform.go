package platform

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Backend is the host-OS capability set: spawning children in their own
// process group, signalling them, probing the process table and ports, and
// locating Java runtimes. One Backend is constructed at startup and shared.
type Backend struct {
	// nameHint guards IsAlive against pid reuse: a live pid whose process
	// name does not contain the hint is not one of ours. Empty disables
	// the check (tests spawn non-java children).
	nameHint string
}

// New returns a backend that treats only java processes as managed children.
func New() *Backend {
	return &Backend{nameHint: "java"}
}

// NewWithNameHint returns a backend with a custom process-name hint.
// An empty hint disables the name check.
func NewWithNameHint(hint string) *Backend {
	return &Backend{nameHint: hint}
}

// JavaExecutableName returns the platform's java binary file name.
func JavaExecutableName() string { return javaExecutable }

// Child is a spawned process with its standard streams attached.
type Child struct {
	pid    int32
	stdout io.ReadCloser
	stderr io.ReadCloser
	stdin  io.WriteCloser

	cmd *exec.Cmd
}

// PID returns the child's OS process id.
func (c *Child) PID() int32 { return c.pid }

// Stdout is the child's standard output stream.
func (c *Child) Stdout() io.Reader { return c.stdout }

// Stderr is the child's standard error stream.
func (c *Child) Stderr() io.Reader { return c.stderr }

// Stdin is the child's standard input. Closing it signals most Minecraft
// servers to begin shutdown.
func (c *Child) Stdin() io.WriteCloser { return c.stdin }

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports -1.
func (c *Child) Wait() int {
	_ = c.cmd.Wait()
	if c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// Spawn starts argv in workdir, detached from the supervisor's terminal and
// in its own process group so signals fan out to the whole tree. The child
// environment is the supervisor's environment with extraEnv layered on top;
// an empty overlay never strips inherited variables.
func (b *Backend) Spawn(workdir string, argv []string, extraEnv map[string]string) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = mergeEnv(extraEnv)
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return &Child{
		pid:    int32(cmd.Process.Pid),
		stdout: stdout,
		stderr: stderr,
		stdin:  stdin,
		cmd:    cmd,
	}, nil
}

// IsAlive consults the OS process table. It never blocks on the process
// itself, only on the table lookup. With a name hint set, a live pid whose
// process name does not contain the hint is reported dead: the pid has
// been reused by an unrelated process.
func (b *Backend) IsAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if b.nameHint == "" {
		return true
	}
	name, err := p.Name()
	if err != nil {
		// Table race: the process vanished between the two calls.
		return false
	}
	return strings.Contains(strings.ToLower(name), b.nameHint)
}

// ProcStats is a point-in-time resource snapshot of one process.
type ProcStats struct {
	CPUPercent float64
	RSSBytes   uint64
	CreateTime time.Time
}

// ProcessStats samples cpu and memory for a live pid. The cpu figure is a
// short interval sample, so the call blocks for ~100ms.
func (b *Backend) ProcessStats(pid int32) (*ProcStats, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process %d not found: %w", pid, err)
	}

	stats := &ProcStats{}
	if cpu, err := p.Percent(100 * time.Millisecond); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if created, err := p.CreateTime(); err == nil {
		stats.CreateTime = time.UnixMilli(created)
	}
	return stats, nil
}

// mergeEnv layers overlay onto the supervisor's own environment. Keys in
// the overlay win; everything else is inherited untouched.
func mergeEnv(overlay map[string]string) []string {
	base := os.Environ()
	if len(overlay) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(overlay))
	order := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	extra := make([]string, 0, len(overlay))
	for k := range overlay {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = overlay[k]
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}
