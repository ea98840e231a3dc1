package pattern

// Unset marks an integer modifier that was not written in the source.
const Unset = -1

type StepKind int

const (
	StepRest StepKind = iota
	StepTie
	StepHit
)

func (k StepKind) String() string {
	switch k {
	case StepRest:
		return "rest"
	case StepTie:
		return "tie"
	case StepHit:
		return "hit"
	default:
		return "unknown"
	}
}

// Step is one grid slot. A hit step with more than one Hit is a chord.
type Step struct {
	Kind   StepKind
	Hits   []Hit
	Offset int
}

func (s Step) IsChord() bool { return s.Kind == StepHit && len(s.Hits) > 1 }

// Note is a pitch written as a note name (c, fs3, Eb2).
type Note struct {
	Class  int // 0..11, c = 0
	Octave int
	Valid  bool
}

// MIDI returns the note number with c4 = 60.
func (n Note) MIDI() int {
	return (n.Octave+1)*12 + n.Class
}

// Cycle fires a hit only on loop Hit of every Of loops.
type Cycle struct {
	Hit int
	Of  int
}

func (c Cycle) Valid() bool { return c.Of > 0 }

// Fires reports whether a step whose counter was just incremented to
// counter should play. Hit == Of is treated as Hit == 0, so 4/4 plays on
// every fourth loop.
func (c Cycle) Fires(counter int) bool {
	if c.Of <= 0 {
		return true
	}
	return counter%c.Of == c.Hit%c.Of
}

// ParamLock overrides a voice parameter for the lifetime of one hit.
type ParamLock struct {
	Key      string
	Value    string
	HasValue bool
	Offset   int
}

type ModKind int

const (
	ModPitch ModKind = iota
	ModChord
	ModVelocity
	ModProbability
	ModRatchet
	ModGate
	ModNudge
	ModCycle
	ModLocks
	ModUnknown
)

func (k ModKind) String() string {
	switch k {
	case ModPitch:
		return "pitch"
	case ModChord:
		return "chord"
	case ModVelocity:
		return "velocity"
	case ModProbability:
		return "probability"
	case ModRatchet:
		return "ratchet"
	case ModGate:
		return "gate"
	case ModNudge:
		return "nudge"
	case ModCycle:
		return "cycle"
	case ModLocks:
		return "locks"
	default:
		return "unknown"
	}
}

// Modifier is the raw source form of one modifier token. Every modifier
// written after a hit is recorded here in source order, including ones
// no runtime component interprets yet (Kind == ModUnknown).
type Modifier struct {
	Kind   ModKind
	Offset int
	Raw    string
}

type Hit struct {
	Offset      int
	Symbol      string
	Accent      bool
	Note        Note
	Pitch       int
	Velocity    int
	Probability Value
	Ratchet     int
	Gate        Value
	Nudge       Value
	Cycle       Cycle
	Locks       []ParamLock
	Mods        []Modifier
}

func newHit(offset int) Hit {
	return Hit{Offset: offset, Velocity: Unset}
}

// Unknown returns the modifiers that have no interpretation yet.
func (h Hit) Unknown() []Modifier {
	var out []Modifier
	for _, m := range h.Mods {
		if m.Kind == ModUnknown {
			out = append(out, m)
		}
	}
	return out
}

// Lock returns the value of the last lock with the given key.
func (h Hit) Lock(key string) (string, bool) {
	for i := len(h.Locks) - 1; i >= 0; i-- {
		if h.Locks[i].Key == key {
			return h.Locks[i].Value, true
		}
	}
	return "", false
}

func (h Hit) clone() Hit {
	out := h
	if h.Locks != nil {
		out.Locks = append([]ParamLock(nil), h.Locks...)
	}
	if h.Mods != nil {
		out.Mods = append([]Modifier(nil), h.Mods...)
	}
	return out
}
