package sequencer

import (
	"math"
	"math/bits"
	"time"

	"github.com/cbegin/groovebox-go/internal/timeline"
)

// UnitsPerStep is the unswung length of a step in swing units. Swing s moves
// s units from the odd step of each pair to the even one.
const UnitsPerStep = 200

// fineStep is the unswung length of a step in fine units. A fine unit is a
// swing unit divided by TicksPerStep, so any tick of a swung step lands on
// an integer position.
const fineStep = UnitsPerStep * timeline.TicksPerStep

// StepUnits is the swung length of step k of a steps-long loop. The last step
// of an odd-length loop has no partner and keeps its unswung length.
func StepUnits(k, steps, swing int) int64 {
	if swing == 0 || (steps%2 == 1 && k == steps-1) {
		return UnitsPerStep
	}
	if k%2 == 0 {
		return UnitsPerStep + int64(swing)
	}
	return UnitsPerStep - int64(swing)
}

// UnitsBefore is the offset of step k from the loop start. k may equal steps.
func UnitsBefore(k, steps, swing int) int64 {
	u := int64(k/2) * 2 * UnitsPerStep
	if k%2 == 1 {
		u += StepUnits(k-1, steps, swing)
	}
	return u
}

// StepStart is the time from the loop start to the start of step k.
// Boundaries are computed from the cumulative unit count, so the periods of a
// loop always add up to the unswung loop length.
func StepStart(bpm, division, swing, steps, k int) time.Duration {
	units := uint64(UnitsBefore(k, steps, swing))
	den := uint64(bpm) * uint64(division) * UnitsPerStep
	return time.Duration(mulDiv(units, 60*uint64(time.Second), den, roundNearest))
}

func StepPeriod(bpm, division, swing, steps, k int) time.Duration {
	return StepStart(bpm, division, swing, steps, k+1) - StepStart(bpm, division, swing, steps, k)
}

// stepSeconds is the unswung step length.
func stepSeconds(bpm, division int) float64 {
	return 60 / float64(bpm) / float64(division)
}

// boundaryPos is the fine position of the start of step k.
func boundaryPos(k, steps, swing int) int64 {
	return UnitsBefore(k, steps, swing) * timeline.TicksPerStep
}

// tickPos maps a loop tick onto the swung fine grid.
func tickPos(tick int64, steps, swing int) int64 {
	k := int(tick / timeline.TicksPerStep)
	if k >= steps {
		return boundaryPos(steps, steps, swing)
	}
	off := tick % timeline.TicksPerStep
	return boundaryPos(k, steps, swing) + off*StepUnits(k, steps, swing)
}

type rounding int

const (
	roundDown rounding = iota
	roundUp
	roundNearest
)

// mulDiv computes a*b/c without intermediate overflow. A result that does not
// fit saturates.
func mulDiv(a, b, c uint64, mode rounding) uint64 {
	hi, lo := bits.Mul64(a, b)
	if mode == roundNearest {
		var carry uint64
		lo, carry = bits.Add64(lo, c/2, 0)
		hi += carry
	}
	if hi >= c {
		return math.MaxInt64
	}
	q, r := bits.Div64(hi, lo, c)
	if mode == roundUp && r != 0 {
		q++
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return q
}

// clock converts between fine positions and sample frames for one tempo and
// division. Positions are absolute: they keep growing across loops.
type clock struct {
	num, den    uint64 // frames = fine * num / den
	anchorFrame int64
	anchorPos   int64
}

func newClock(sampleRate, bpm, division int) clock {
	c := clock{}
	c.setRate(sampleRate, bpm, division)
	return c
}

func (c *clock) setRate(sampleRate, bpm, division int) {
	c.num = 60 * uint64(sampleRate)
	c.den = uint64(bpm) * uint64(division) * fineStep
}

// frameAt is the first frame at or after pos. Positions before the anchor
// map to the anchor frame.
func (c *clock) frameAt(pos int64) int64 {
	if pos <= c.anchorPos {
		return c.anchorFrame
	}
	return c.anchorFrame + int64(mulDiv(uint64(pos-c.anchorPos), c.num, c.den, roundUp))
}

// posAt is the position reached at frame.
func (c *clock) posAt(frame int64) int64 {
	if frame <= c.anchorFrame {
		return c.anchorPos
	}
	return c.anchorPos + int64(mulDiv(uint64(frame-c.anchorFrame), c.den, c.num, roundDown))
}

// sameFrame reports whether pos lies less than one frame after from.
func (c *clock) sameFrame(from, pos int64) bool {
	if pos <= from {
		return true
	}
	hi, lo := bits.Mul64(uint64(pos-from), c.num)
	return hi == 0 && lo < c.den
}

// retime keeps the position reached at frame and continues at a new rate.
func (c *clock) retime(frame int64, sampleRate, bpm, division int) {
	pos := c.posAt(frame)
	c.setRate(sampleRate, bpm, division)
	c.anchorFrame = frame
	c.anchorPos = pos
}

func (c *clock) anchor(frame, pos int64) {
	c.anchorFrame = frame
	c.anchorPos = pos
}
