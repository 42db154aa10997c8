package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	assert.Equal(t, "waiting for size...", Render(0, -1, time.Second))
	assert.Equal(t, "500000 / 1000000 (50%) 0.50 mb/s", Render(500_000, 1_000_000, time.Second))
	assert.Equal(t, "0 / 0 (100%) 0.00 mb/s", Render(0, 0, 0))
	assert.Equal(t, "10 / 100 (10%) 0.00 mb/s", Render(10, 100, 0), "no division by zero before any time elapsed")

	line := Render(123, 456, 3*time.Second)
	assert.Equal(t, line, Render(123, 456, 3*time.Second))
}

func TestPercentFloors(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 100))
	assert.Equal(t, 99, Percent(999, 1000))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 100, Percent(73, 73))
	assert.Equal(t, 0, Percent(5, -1))
}

func TestTrackerSnapshot(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	tr := NewTracker(0, nil)
	tr.SetNow(func() time.Time { return now })

	assert.Equal(t, "waiting for size...", tr.Line())
	_, known := tr.Total()
	assert.False(t, known)

	tr.SetTotal(4_000_000)
	tr.Arm()
	now = start.Add(2 * time.Second)
	tr.Add(1_000_000)
	tr.Add(1_000_000)

	snap := tr.Snapshot()
	assert.Equal(t, int64(2_000_000), snap.Transferred)
	assert.Equal(t, int64(4_000_000), snap.Total)
	assert.Equal(t, 2*time.Second, snap.Elapsed)
	assert.Equal(t, 50, snap.Percent())
	assert.Equal(t, "2000000 / 4000000 (50%) 1.00 mb/s", tr.Line())

	// re-arming keeps the first start time
	tr.Arm()
	assert.Equal(t, 2*time.Second, tr.Snapshot().Elapsed)
	tr.Disarm()
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestTrackerTicks(t *testing.T) {
	rec := &lineRecorder{}
	tr := NewTracker(5*time.Millisecond, rec.record)
	tr.SetTotal(10)
	tr.Arm()
	tr.Add(10)

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	tr.Disarm()
	n := len(rec.snapshot())
	assert.Contains(t, rec.snapshot()[n-1], "10 / 10 (100%)")

	tr.Disarm()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), n, "no renders after disarm")
}

func TestTrackerDisarmWithoutArm(t *testing.T) {
	rec := &lineRecorder{}
	tr := NewTracker(time.Millisecond, rec.record)
	tr.Disarm()
	assert.Empty(t, rec.snapshot())
}

func TestTerminalSink(t *testing.T) {
	var buf bytes.Buffer
	sink := TerminalSink(&buf)
	sink("a")
	sink("b")
	assert.Equal(t, "\r\033[Ka\r\033[Kb", buf.String())
}
