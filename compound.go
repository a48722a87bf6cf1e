package mmstats

import (
	"encoding/binary"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Compound fields publish through the same double-buffered protocol as the
// simple kinds but keep additional producer-side state (totals, windows,
// timer contexts) that never enters the mapping.

// Counter is a double-buffered uint64 whose primary operation is
// incrementing. Deltas are added with two's-complement wraparound.
type Counter struct {
	zeroInit
	s fieldState
}

func (h *Counter) state() *fieldState { return &h.s }

// Inc increments the counter by one.
func (h *Counter) Inc() { h.Add(1) }

// Add adds delta, which may be negative.
func (h *Counter) Add(delta int64) {
	h.Set(h.Value() + uint64(delta))
}

// Set assigns the counter directly.
func (h *Counter) Set(v uint64) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint64(b, v)
	h.s.commit()
}

func (h *Counter) Value() uint64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Average publishes the cumulative mean of every value added since
// construction. Count and total stay producer-side.
type Average struct {
	zeroInit
	s     fieldState
	count uint64
	total float64
}

func (h *Average) state() *fieldState { return &h.s }

// Add folds v into the average and publishes the new mean.
func (h *Average) Add(v float64) {
	h.count++
	h.total += v
	h.set(h.total / float64(h.count))
}

func (h *Average) set(v float64) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	h.s.commit()
}

func (h *Average) Value() float64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// DefaultWindowSize is the window of MovingAverage and Timer fields
// declared without an explicit size.
const DefaultWindowSize = 100

// MovingAverage publishes the mean of the last len(window) values added.
// Until the window fills, the mean covers only the values seen so far.
type MovingAverage struct {
	zeroInit
	s      fieldState
	window []float64
	idx    int
	full   bool
}

func (h *MovingAverage) state() *fieldState { return &h.s }

// Add appends v to the window and publishes the window mean.
func (h *MovingAverage) Add(v float64) {
	h.window[h.idx] = v
	if h.full {
		h.set(floats.Sum(h.window) / float64(len(h.window)))
	} else {
		h.set(floats.Sum(h.window[:h.idx+1]) / float64(h.idx+1))
	}
	if h.idx == len(h.window)-1 {
		h.idx = 0
		h.full = true
	} else {
		h.idx++
	}
}

func (h *MovingAverage) set(v float64) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	h.s.commit()
}

func (h *MovingAverage) Value() float64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Timer is a MovingAverage over elapsed wall-clock seconds with a scoped
// start/stop surface:
//
//	ctx := stats.ReqTime.Start()
//	handle(req)
//	ctx.Stop()
type Timer struct {
	MovingAverage
	clock func() time.Time
	last  *TimerContext
}

// Start begins a timing scope. The published value is unchanged until the
// returned context is stopped.
func (h *Timer) Start() *TimerContext {
	ctx := &TimerContext{timer: h, start: h.clock()}
	h.last = ctx
	return ctx
}

// Last reports the elapsed seconds of the most recent context: live while
// it is still running, final once stopped, 0 before any Start.
func (h *Timer) Last() float64 {
	if h.last == nil {
		return 0
	}
	return h.last.Elapsed()
}

// A TimerContext is one timing scope of a Timer.
type TimerContext struct {
	timer *Timer
	start time.Time
	end   time.Time
	done  bool
}

// Elapsed returns the seconds spent in the scope so far, or the final
// duration once the context is stopped.
func (c *TimerContext) Elapsed() float64 {
	if c.done {
		return c.end.Sub(c.start).Seconds()
	}
	return c.timer.clock().Sub(c.start).Seconds()
}

// Stop ends the scope and folds the elapsed seconds into the timer's
// moving average. Stopping twice records the scope twice.
func (c *TimerContext) Stop() {
	c.end = c.timer.clock()
	c.done = true
	c.timer.Add(c.Elapsed())
}
