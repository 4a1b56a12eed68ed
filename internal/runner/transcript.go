package runner

import (
	"fmt"
	"strings"
	"sync"
)

// Transcript is the ordered, human-readable log of one run. Rows running
// concurrently buffer their lines and append them as one block, so a row's
// lines are never interleaved with another's.
type Transcript struct {
	mu    sync.Mutex
	lines []string
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Addf appends a single formatted line.
func (t *Transcript) Addf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

// Append adds a block of lines atomically.
func (t *Transcript) Append(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, lines...)
}

// Lines returns a copy of all lines.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// String joins all lines with newlines.
func (t *Transcript) String() string {
	return strings.Join(t.Lines(), "\n")
}

// rowBuffer collects the lines of one row before they are appended.
type rowBuffer struct {
	lines []string
}

func (b *rowBuffer) addf(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *rowBuffer) add(lines ...string) {
	for _, l := range lines {
		b.lines = append(b.lines, "   "+l)
	}
}
