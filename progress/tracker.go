// Package progress counts transferred bytes and renders throughput on a fixed tick.
package progress

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the render period used by the command line client.
const DefaultInterval = 50 * time.Millisecond

const waitingLine = "waiting for size..."

// Snapshot is a consistent-enough view of the counters for rendering.
type Snapshot struct {
	Transferred int64
	Total       int64 // -1 while unknown
	Elapsed     time.Duration
}

func (s Snapshot) Percent() int { return Percent(s.Transferred, s.Total) }

func (s Snapshot) String() string { return Render(s.Transferred, s.Total, s.Elapsed) }

// Percent is floor(transferred / total * 100). An empty transfer counts as complete.
func Percent(transferred, total int64) int {
	switch {
	case total < 0:
		return 0
	case total == 0:
		return 100
	}
	return int(math.Floor(float64(transferred) / float64(total) * 100))
}

// Render formats one progress line. It is a pure function of its arguments.
func Render(transferred, total int64, elapsed time.Duration) string {
	if total < 0 {
		return waitingLine
	}
	mbps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		mbps = float64(transferred) / 1e6 / secs
	}
	return fmt.Sprintf("%d / %d (%d%%) %.2f mb/s", transferred, total, Percent(transferred, total), mbps)
}

// Tracker owns the counters of one transfer. Counters are written by the message
// handling goroutine only; the ticker goroutine reads them and never writes.
type Tracker struct {
	transferred atomic.Int64
	total       atomic.Int64
	start       atomic.Int64 // unix nanos of the first Arm, 0 before

	interval time.Duration
	sink     func(line string)
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTracker returns a tracker that renders to sink every interval once armed.
// A nil sink or non-positive interval keeps the counters without a ticker.
func NewTracker(interval time.Duration, sink func(line string)) *Tracker {
	t := &Tracker{interval: interval, sink: sink, now: time.Now}
	t.total.Store(-1)
	return t
}

// SetNow replaces the clock, for tests.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

func (t *Tracker) SetTotal(n int64) { t.total.Store(n) }

func (t *Tracker) Add(n int64) { t.transferred.Add(n) }

func (t *Tracker) Transferred() int64 { return t.transferred.Load() }

// Total returns the negotiated size and whether it is known yet.
func (t *Tracker) Total() (int64, bool) {
	n := t.total.Load()
	return n, n >= 0
}

func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{Transferred: t.transferred.Load(), Total: t.total.Load()}
	if start := t.start.Load(); start != 0 {
		s.Elapsed = t.now().Sub(time.Unix(0, start))
	}
	return s
}

func (t *Tracker) Line() string { return t.Snapshot().String() }

// Arm records the start time and starts the render ticker. Arming twice is a no-op.
func (t *Tracker) Arm() {
	t.start.CompareAndSwap(0, t.now().UnixNano())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil || t.sink == nil || t.interval <= 0 {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
}

func (t *Tracker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.sink(t.Line())
		}
	}
}

// Disarm stops the ticker and renders one final line. Safe to call repeatedly.
func (t *Tracker) Disarm() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	t.sink(t.Line())
}

// TerminalSink rewrites the current terminal line on every render.
func TerminalSink(w io.Writer) func(string) {
	return func(line string) {
		fmt.Fprintf(w, "\r\033[K%s", line)
	}
}
