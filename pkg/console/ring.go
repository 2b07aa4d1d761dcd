package console

import (
	"github.com/craftd/msm/pkg/types"
)

// ring is a fixed-capacity line buffer. Once full, each push evicts the
// oldest line. Not safe for concurrent use; the owning session locks.
type ring struct {
	buf   []types.ConsoleLine
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 2000
	}
	return &ring{buf: make([]types.ConsoleLine, capacity)}
}

func (r *ring) push(line types.ConsoleLine) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = line
		r.n++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies the buffered lines, oldest first.
func (r *ring) snapshot() []types.ConsoleLine {
	out := make([]types.ConsoleLine, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.n }
