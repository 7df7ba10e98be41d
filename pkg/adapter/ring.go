package adapter

import (
	"fmt"
	"strings"
	"sync"
)

// lineRing is a bounded FIFO of captured output lines. When full, the
// oldest lines are evicted and counted, so health snapshots can say how
// much history was dropped.
type lineRing struct {
	mu      sync.Mutex
	lines   []string
	cap     int
	dropped int
}

func newLineRing(capacity int) *lineRing {
	return &lineRing{
		lines: make([]string, 0, capacity),
		cap:   capacity,
	}
}

// Add appends a line, evicting the oldest when full.
func (r *lineRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lines) >= r.cap {
		copy(r.lines, r.lines[1:])
		r.lines[len(r.lines)-1] = line
		r.dropped++
	} else {
		r.lines = append(r.lines, line)
	}
}

// Tail returns up to n of the most recent lines, oldest first. When lines
// were evicted, the first entry is a header noting how many.
func (r *lineRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lines) == 0 {
		return nil
	}
	start := 0
	if n > 0 && len(r.lines) > n {
		start = len(r.lines) - n
	}
	out := make([]string, 0, len(r.lines)-start+1)
	if r.dropped > 0 {
		out = append(out, fmt.Sprintf("... [%d earlier lines dropped]", r.dropped))
	}
	out = append(out, r.lines[start:]...)
	return out
}

// TailString joins Tail(n) with newlines for health detail fields.
func (r *lineRing) TailString(n int) string {
	return strings.Join(r.Tail(n), "\n")
}

// Reset clears all lines and the dropped counter.
func (r *lineRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = r.lines[:0]
	r.dropped = 0
}

// maxLineBytes caps a single captured line. Workers dumping megabyte lines
// (minified JSON, base64 blobs) must not bloat the conversation log.
const maxLineBytes = 4096

// truncateLine caps line at maxLineBytes and appends a marker noting how
// many bytes were cut.
func truncateLine(line string) string {
	if len(line) <= maxLineBytes {
		return line
	}
	omitted := len(line) - maxLineBytes
	return line[:maxLineBytes] + fmt.Sprintf("... [line truncated: %d chars omitted]", omitted)
}
