package timeline

import (
	"math"
	"sort"

	"github.com/cbegin/groovebox-go/internal/pattern"
)

// TicksPerStep divides evenly by every ratchet count from 1 to 12.
const TicksPerStep = 27720

const (
	DefaultVelocity = 100
	AccentVelocity  = 110
	DefaultDivision = 4
	DefaultRoot     = 60
	DefaultBPM      = 120

	// RatchetGate is the sounding fraction of each ratchet sub-step when the
	// hit carries no explicit gate.
	RatchetGate = 0.8

	// MaxGate caps an explicit gate, as a multiple of the event span.
	MaxGate = 4.0
)

// Config is the slice of track state the compiler reads.
type Config struct {
	Division int
	Root     int // MIDI note the sample sounds at unshifted; 0 selects DefaultRoot
	Mode     Mode
	BPM      float64 // only used to resolve millisecond gates for Length
}

func (c Config) normalized() Config {
	if c.Division <= 0 {
		c.Division = DefaultDivision
	}
	if c.Root <= 0 {
		c.Root = DefaultRoot
	}
	if c.BPM <= 0 {
		c.BPM = DefaultBPM
	}
	return c
}

// Event is one compiled trigger.
type Event struct {
	Step     int
	Slot     int
	Tick     int64
	Span     int64   // ticks from Tick to the end of the last held (sub-)step
	Length   int64   // sounding ticks; -1 when the voice is never clipped
	Gate     float64 // fraction of Span that sounds; -1 when never clipped
	GateMS   float64 // explicit millisecond gate, re-resolved against live tempo
	Holds    int     // trailing ties
	Ratchet  int     // sub-event index
	Ratchets int

	Pitch       int
	Velocity    int
	Accent      bool
	Gain        float64
	Probability float64
	Cycle       pattern.Cycle
	Nudge       pattern.Value
	Locks       []pattern.ParamLock
	Extra       []pattern.Modifier
}

// Timeline is one loop of compiled events ordered by tick.
type Timeline struct {
	Source   string
	Steps    int
	Division int
	Mode     Mode
	Root     int
	Events   []Event
	// Holds[i] is true when step i is a tie continuing an earlier hit.
	Holds []bool
}

func (t *Timeline) LoopTicks() int64 {
	return int64(t.Steps) * TicksPerStep
}

// CompileSource parses src and compiles it. Parse failures are returned as
// *pattern.ParseError.
func CompileSource(src string, cfg Config) (*Timeline, error) {
	steps, err := pattern.Parse(src)
	if err != nil {
		return nil, err
	}
	tl := Compile(steps, cfg)
	tl.Source = src
	return tl, nil
}

// Compile resolves ties, ratchets and chords into a flat event list. It
// never fails: modifiers without runtime meaning ride along in Extra.
func Compile(steps []pattern.Step, cfg Config) *Timeline {
	cfg = cfg.normalized()
	tl := &Timeline{
		Steps:    len(steps),
		Division: cfg.Division,
		Mode:     cfg.Mode,
		Root:     cfg.Root,
		Holds:    make([]bool, len(steps)),
	}
	stepSeconds := 60 / cfg.BPM / float64(cfg.Division)
	sounding := false
	for i, st := range steps {
		switch st.Kind {
		case pattern.StepRest:
			sounding = false
			continue
		case pattern.StepTie:
			tl.Holds[i] = sounding
			continue
		}
		if len(st.Hits) == 0 {
			sounding = false
			continue
		}
		sounding = true
		ties := 0
		for j := i + 1; j < len(steps) && steps[j].Kind == pattern.StepTie; j++ {
			ties++
		}
		for slot, h := range st.Hits {
			tl.Events = appendHit(tl.Events, h, i, slot, ties, cfg, stepSeconds)
		}
	}
	sort.SliceStable(tl.Events, func(a, b int) bool {
		return tl.Events[a].Tick < tl.Events[b].Tick
	})
	return tl
}

func appendHit(dst []Event, h pattern.Hit, step, slot, ties int, cfg Config, stepSeconds float64) []Event {
	n := min(max(h.Ratchet, 1), pattern.MaxRatchet)
	velocity := h.Velocity
	if velocity == pattern.Unset {
		velocity = DefaultVelocity
		if h.Accent {
			velocity = AccentVelocity
		}
	}
	pitch := h.Pitch
	if h.Note.Valid {
		pitch += h.Note.MIDI() - cfg.Root
	}
	prob := 1.0
	if h.Probability.IsSet() {
		prob = clamp(h.Probability.Ratio(), 0, 1)
	}
	gateMS := 0.0
	if h.Gate.Unit == pattern.UnitMillis {
		gateMS = math.Max(h.Gate.Amount, 0)
	}
	extra := h.Unknown()

	base := int64(step) * TicksPerStep
	for r := 0; r < n; r++ {
		start := base + int64(r)*TicksPerStep/int64(n)
		end := base + int64(r+1)*TicksPerStep/int64(n)
		span := end - start
		holds := 0
		if r == n-1 {
			span += int64(ties) * TicksPerStep
			holds = ties
		}
		gate := defaultGate(cfg.Mode, n > 1)
		if h.Gate.IsSet() {
			gate = clamp(h.Gate.Fraction(stepSeconds), 0, MaxGate)
		}
		length := int64(-1)
		if gate >= 0 {
			length = int64(math.Round(gate * float64(span)))
		}
		dst = append(dst, Event{
			Step:        step,
			Slot:        slot,
			Tick:        start,
			Span:        span,
			Length:      length,
			Gate:        gate,
			GateMS:      gateMS,
			Holds:       holds,
			Ratchet:     r,
			Ratchets:    n,
			Pitch:       pitch,
			Velocity:    velocity,
			Accent:      h.Accent,
			Gain:        VelocityGain(velocity),
			Probability: prob,
			Cycle:       h.Cycle,
			Nudge:       h.Nudge,
			Locks:       h.Locks,
			Extra:       extra,
		})
	}
	return dst
}

// defaultGate is the sounding fraction used when a hit has no explicit
// gate. A negative result means the voice is never clipped.
func defaultGate(mode Mode, ratchet bool) float64 {
	if mode == ModeOneShot {
		return -1
	}
	if ratchet {
		return RatchetGate
	}
	return 1
}

// VelocityGain maps a 0..127 velocity to linear gain. 100 is unity.
func VelocityGain(velocity int) float64 {
	if velocity <= 0 {
		return 0
	}
	if velocity > 127 {
		velocity = 127
	}
	return float64(velocity) / DefaultVelocity
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
