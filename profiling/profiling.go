// Package profiling records nested, named timing scopes inside a frame, one
// logical unit of work such as a single inference call or a capture cycle,
// and renders them as an indented report.
//
// A Frame is not safe for concurrent use. Scopes must be ended in the reverse
// order in which they were started; the Scope helper enforces this when used
// with defer:
//
//	defer frame.Scope("Loading input")()
package profiling

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/util/safeconv"
)

// Record is one finished scope.
type Record struct {
	Name     string
	Depth    int
	Start    time.Time
	Duration time.Duration
}

func (r Record) String() string {
	return fmt.Sprintf("%s%s: %.2f ms", strings.Repeat("    ", max(r.Depth, 0)), r.Name, safeconv.DurationToMillis(r.Duration))
}

type Frame struct {
	name    string
	now     func() time.Time
	start   time.Time
	depth   int
	records []Record
	last    string
}

type FrameOption func(f *Frame)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) FrameOption {
	return func(f *Frame) {
		f.now = now
	}
}

func NewFrame(name string, opts ...FrameOption) *Frame {
	f := &Frame{name: name, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	f.start = f.now()
	return f
}

func (f *Frame) Name() string {
	return f.name
}

// StartScope increments the depth counter and returns the depth at entry.
func (f *Frame) StartScope() int {
	depth := f.depth
	f.depth++
	return depth
}

// EndScope appends the record and decrements the depth counter.
func (f *Frame) EndScope(r Record) {
	f.records = append(f.records, r)
	f.depth--
}

// Scope starts a named scope and returns the function ending it. A nil frame
// returns a no-op so call sites need no guard.
func (f *Frame) Scope(name string) func() {
	if f == nil {
		return func() {}
	}
	start := f.now()
	depth := f.StartScope()
	return func() {
		f.EndScope(Record{
			Name:     name,
			Depth:    depth,
			Start:    start,
			Duration: f.now().Sub(start),
		})
	}
}

// Depth is the number of scopes currently open.
func (f *Frame) Depth() int {
	return f.depth
}

// Records returns a copy of the scopes finished in the current frame.
func (f *Frame) Records() []Record {
	out := make([]Record, len(f.records))
	copy(out, f.records)
	return out
}

// Finish renders the report for the current frame, then clears the log and
// restarts the frame clock.
func (f *Frame) Finish() string {
	end := f.now()

	// children start after their parent, so a stable sort on start keeps them below it
	sort.SliceStable(f.records, func(i, j int) bool {
		return f.records[i].Start.Before(f.records[j].Start)
	})

	frameMillis := safeconv.DurationToMillis(end.Sub(f.start))
	rate := math.Inf(1)
	if frameMillis > 0 {
		rate = 1.0 / (frameMillis / 1000.0)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Frame: %.2f fps (%.2f ms)\n", f.name, rate, frameMillis)
	for _, r := range f.records {
		b.WriteString("    ")
		b.WriteString(r.String())
		b.WriteByte('\n')
	}

	f.records = f.records[:0]
	f.depth = 0
	f.start = f.now()
	f.last = b.String()
	return f.last
}

// Last returns the report produced by the previous Finish.
func (f *Frame) Last() string {
	return f.last
}

// Log finishes the frame and writes the report to the info log.
func (f *Frame) Log() {
	if f == nil {
		return
	}
	log.Info().Msg(f.Finish())
}
