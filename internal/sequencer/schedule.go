package sequencer

import (
	"math"
	"strconv"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cbegin/groovebox-go/internal/pattern"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

// MaxNudge bounds a nudge to half a step either way.
const MaxNudge = 0.5

// entry is one event laid out on the swung grid of a single loop.
type entry struct {
	ev      *timeline.Event
	step    int
	logical int64 // fine position before nudge
	at      int64 // fine position it fires at
	end     int64 // fine position where its span ends

	gainDB float64
	pan    float64
	start  float64
}

// layout places every event of tl on the grid. Nudges are resolved here so
// that the transport only ever walks a sorted list.
func layout(tl *timeline.Timeline, swing, bpm int) []entry {
	if tl == nil || tl.Steps == 0 {
		return nil
	}
	steps := tl.Steps
	loop := boundaryPos(steps, steps, swing)
	stepSec := stepSeconds(bpm, tl.Division)
	out := make([]entry, len(tl.Events))
	var prev int64
	for i := range tl.Events {
		ev := &tl.Events[i]
		e := entry{
			ev:      ev,
			step:    ev.Step,
			logical: tickPos(ev.Tick, steps, swing),
			end:     tickPos(ev.Tick+ev.Span, steps, swing),
		}
		e.at = e.logical
		if ev.Nudge.IsSet() {
			frac := core.Clamp(ev.Nudge.Fraction(stepSec), -MaxNudge, MaxNudge)
			if !math.IsNaN(frac) {
				e.at += int64(math.Round(frac * fineStep))
			}
		}
		if e.at < prev {
			e.at = prev
		}
		if e.at < 0 {
			e.at = 0
		}
		if e.at >= loop {
			e.at = loop - 1
		}
		prev = e.at
		e.gainDB, e.pan, e.start = locks(ev.Locks)
		out[i] = e
	}
	return out
}

// locks reads the parameter locks the voice engine understands. Anything
// else, including values that do not parse, stays inert.
func locks(ls []pattern.ParamLock) (gainDB, pan, start float64) {
	for _, l := range ls {
		if !l.HasValue {
			continue
		}
		v, err := strconv.ParseFloat(l.Value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		switch l.Key {
		case "gain":
			gainDB = v
		case "pan":
			pan = core.Clamp(v, -1, 1)
		case "start":
			start = core.Clamp(v, 0, 1)
		}
	}
	return gainDB, pan, start
}

// firstAt is the index of the first entry at or after pos.
func firstAt(sched []entry, pos int64) int {
	lo, hi := 0, len(sched)
	for lo < hi {
		mid := (lo + hi) / 2
		if sched[mid].at < pos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// stepAt is the step whose span contains pos.
func stepAt(pos int64, steps, swing int) int {
	lo, hi := 0, steps-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if boundaryPos(mid, steps, swing) <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
