package pattern

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, src string) []Step {
	t.Helper()
	steps, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return steps
}

func kinds(steps []Step) []StepKind {
	out := make([]StepKind, len(steps))
	for i, s := range steps {
		out[i] = s.Kind
	}
	return out
}

func TestParseBasicGrid(t *testing.T) {
	steps := mustParse(t, "x... X._. | 1 * # trailing comment\n")
	want := []StepKind{StepHit, StepRest, StepRest, StepRest, StepHit, StepRest, StepRest, StepRest, StepHit, StepHit}
	got := kinds(steps)
	if len(got) != len(want) {
		t.Fatalf("step count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !steps[4].Hits[0].Accent {
		t.Fatalf("X should be accented")
	}
	// the tie after a rest is normalised to a rest
	if steps[6].Kind != StepRest {
		t.Fatalf("tie after rest should become rest, got %v", steps[6].Kind)
	}
}

func TestParseLeadingTieIsRest(t *testing.T) {
	steps := mustParse(t, "_x__")
	if steps[0].Kind != StepRest {
		t.Fatalf("leading tie = %v, want rest", steps[0].Kind)
	}
	if steps[2].Kind != StepTie || steps[3].Kind != StepTie {
		t.Fatalf("ties after hit should be kept, got %v", kinds(steps))
	}
}

func TestParseModifiers(t *testing.T) {
	steps := mustParse(t, "x+7v90?50%{3}=3/4@-10ms[cutoff=0.4, rev]")
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	h := steps[0].Hits[0]
	if h.Pitch != 7 {
		t.Fatalf("pitch = %d, want 7", h.Pitch)
	}
	if h.Velocity != 90 {
		t.Fatalf("velocity = %d, want 90", h.Velocity)
	}
	if h.Probability.Unit != UnitPercent || h.Probability.Ratio() != 0.5 {
		t.Fatalf("probability = %+v, want 50%%", h.Probability)
	}
	if h.Ratchet != 3 {
		t.Fatalf("ratchet = %d, want 3", h.Ratchet)
	}
	if h.Gate.Unit != UnitFraction || h.Gate.Ratio() != 0.75 {
		t.Fatalf("gate = %+v, want 3/4", h.Gate)
	}
	if h.Nudge.Unit != UnitMillis || h.Nudge.Amount != -10 {
		t.Fatalf("nudge = %+v, want -10ms", h.Nudge)
	}
	if len(h.Locks) != 2 || h.Locks[0].Key != "cutoff" || h.Locks[0].Value != "0.4" || h.Locks[1].HasValue {
		t.Fatalf("locks = %+v", h.Locks)
	}
	if len(h.Mods) != 7 {
		t.Fatalf("mods = %d, want 7", len(h.Mods))
	}
	if h.Mods[0].Raw != "+7" || h.Mods[5].Raw != "@-10ms" || h.Mods[6].Kind != ModLocks {
		t.Fatalf("raw modifiers not preserved: %+v", h.Mods)
	}
}

func TestParseGateForms(t *testing.T) {
	cases := []struct {
		src  string
		unit Unit
		frac float64
	}{
		{"x=1/2", UnitFraction, 0.5},
		{"x=25%", UnitPercent, 0.25},
		{"x=0.5", UnitDecimal, 0.5},
		{"x=.5", UnitDecimal, 0.5},
		{"x=2", UnitDecimal, 2},
		{"x=50ms", UnitMillis, 0.4},
	}
	for _, tc := range cases {
		steps := mustParse(t, tc.src)
		g := steps[0].Hits[0].Gate
		if g.Unit != tc.unit {
			t.Fatalf("%s: unit = %v, want %v", tc.src, g.Unit, tc.unit)
		}
		if got := g.Fraction(0.125); got < tc.frac-1e-9 || got > tc.frac+1e-9 {
			t.Fatalf("%s: fraction = %v, want %v", tc.src, got, tc.frac)
		}
	}
}

func TestParseGateDoesNotSwallowRest(t *testing.T) {
	steps := mustParse(t, "x=1...")
	if len(steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(steps))
	}
}

func TestParseCycleVersusNudge(t *testing.T) {
	steps := mustParse(t, "x@1/4 x@+1/8 x@25% x@0.1")
	if c := steps[0].Hits[0].Cycle; c.Hit != 1 || c.Of != 4 {
		t.Fatalf("cycle = %+v, want 1/4", c)
	}
	if n := steps[1].Hits[0].Nudge; n.Unit != UnitFraction || n.Ratio() != 0.125 {
		t.Fatalf("signed fraction should be a nudge, got %+v", n)
	}
	if n := steps[2].Hits[0].Nudge; n.Unit != UnitPercent || n.Amount != 25 {
		t.Fatalf("nudge = %+v, want 25%%", n)
	}
	if n := steps[3].Hits[0].Nudge; n.Unit != UnitDecimal || n.Amount != 0.1 {
		t.Fatalf("nudge = %+v, want 0.1", n)
	}
}

func TestCycleFires(t *testing.T) {
	c := Cycle{Hit: 1, Of: 4}
	var fired []int
	for counter := 1; counter <= 9; counter++ {
		if c.Fires(counter) {
			fired = append(fired, counter)
		}
	}
	if len(fired) != 3 || fired[0] != 1 || fired[1] != 5 || fired[2] != 9 {
		t.Fatalf("1/4 fired on %v, want [1 5 9]", fired)
	}
	last := Cycle{Hit: 4, Of: 4}
	if last.Fires(1) || !last.Fires(4) || !last.Fires(8) {
		t.Fatalf("4/4 should fire on loops 4 and 8 only")
	}
}

func TestParseChordGroup(t *testing.T) {
	steps := mustParse(t, "(x x+4 x+7)")
	if len(steps) != 1 || !steps[0].IsChord() {
		t.Fatalf("expected a single chord step, got %v", kinds(steps))
	}
	want := []int{0, 4, 7}
	for i, h := range steps[0].Hits {
		if h.Pitch != want[i] {
			t.Fatalf("member %d pitch = %d, want %d", i, h.Pitch, want[i])
		}
	}
}

func TestParseCompactChord(t *testing.T) {
	steps := mustParse(t, "x+12+(7,4,4)v80")
	hits := steps[0].Hits
	if len(hits) != 3 {
		t.Fatalf("chord size = %d, want 3", len(hits))
	}
	want := []int{12, 16, 19}
	for i, h := range hits {
		if h.Pitch != want[i] {
			t.Fatalf("member %d pitch = %d, want %d", i, h.Pitch, want[i])
		}
		if h.Velocity != 80 {
			t.Fatalf("member %d velocity = %d, want 80", i, h.Velocity)
		}
	}
}

func TestParseRepeatAndInlineGroups(t *testing.T) {
	steps := mustParse(t, "(x.)*3 (x _ .) ()")
	if len(steps) != 9 {
		t.Fatalf("steps = %d, want 9 (%v)", len(steps), kinds(steps))
	}
	if steps[7].Kind != StepTie {
		t.Fatalf("inline group should keep its tie, got %v", steps[7].Kind)
	}
	steps[0].Hits[0].Pitch = 99
	if steps[2].Hits[0].Pitch == 99 {
		t.Fatalf("repeated steps must not share hit storage")
	}
}

func TestParseRepeatAfterSpace(t *testing.T) {
	want := []StepKind{StepHit, StepRest, StepHit, StepRest}
	for _, src := range []string{"(x .)*2", "(x .) *2", "(x .)\n*2", "(x .) # twice\n*2"} {
		got := kinds(mustParse(t, src))
		if len(got) != len(want) {
			t.Fatalf("%q: steps = %v, want %v", src, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%q: steps = %v, want %v", src, got, want)
			}
		}
	}
	// a bare '*' after a group is still a hit
	steps := mustParse(t, "(x x+7) * x")
	if len(steps) != 3 || !steps[0].IsChord() || steps[1].Hits[0].Symbol != "*" {
		t.Fatalf("steps = %v", kinds(steps))
	}
}

func TestParseInertZeroCounts(t *testing.T) {
	steps := mustParse(t, "x{0} x@1/0")
	if r := steps[0].Hits[0].Ratchet; r != 1 {
		t.Fatalf("x{0} ratchet = %d, want 1", r)
	}
	c := steps[1].Hits[0].Cycle
	if c.Valid() {
		t.Fatalf("x@1/0 cycle = %+v, want an always-firing cycle", c)
	}
	for counter := 1; counter <= 4; counter++ {
		if !c.Fires(counter) {
			t.Fatalf("x@1/0 skipped loop %d", counter)
		}
	}
	if steps := mustParse(t, "x{64}"); steps[0].Hits[0].Ratchet != MaxRatchet {
		t.Fatalf("x{64} ratchet = %d", steps[0].Hits[0].Ratchet)
	}
}

func TestParseNoteNames(t *testing.T) {
	steps := mustParse(t, "c4 fs3 Eb2 b")
	cases := []struct {
		midi   int
		accent bool
	}{
		{60, false},
		{54, false},
		{39, true},
		{71, false},
	}
	for i, tc := range cases {
		h := steps[i].Hits[0]
		if !h.Note.Valid || h.Note.MIDI() != tc.midi {
			t.Fatalf("note %d = %+v (midi %d), want %d", i, h.Note, h.Note.MIDI(), tc.midi)
		}
		if h.Accent != tc.accent {
			t.Fatalf("note %d accent = %v, want %v", i, h.Accent, tc.accent)
		}
	}
}

func TestParsePreservesUnknownModifiers(t *testing.T) {
	src := "x~0.5^3!k.x"
	steps := mustParse(t, src)
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	unknown := steps[0].Hits[0].Unknown()
	want := []string{"~0.5", "^3", "!", "k"}
	if len(unknown) != len(want) {
		t.Fatalf("unknown = %+v, want %v", unknown, want)
	}
	for i, m := range unknown {
		if m.Raw != want[i] {
			t.Fatalf("unknown %d = %q, want %q", i, m.Raw, want[i])
		}
		if src[m.Offset:m.Offset+len(m.Raw)] != m.Raw {
			t.Fatalf("offset %d does not locate %q", m.Offset, m.Raw)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src    string
		kind   ErrorKind
		offset int
	}{
		{"x v", ErrUnexpectedChar, 2},
		{"xv200", ErrInvalidNumber, 2},
		{"xv", ErrUnexpectedEnd, 2},
		{"x{65}", ErrInvalidNumber, 2},
		{"(x{1048576})*65536", ErrInvalidNumber, 3},
		{"x{3", ErrUnterminated, 1},
		{"(x x", ErrUnterminated, 0},
		{"x)", ErrUnexpectedChar, 1},
		{"(x)*0", ErrInvalidRepeat, 4},
		{"x[a=1", ErrUnterminated, 1},
		{"x+()", ErrInvalidChord, 2},
		{"x=?", ErrExpectedNumber, 2},
	}
	for _, tc := range cases {
		_, err := Parse(tc.src)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%q: expected ParseError, got %v", tc.src, err)
		}
		if pe.Kind != tc.kind || pe.Offset != tc.offset {
			t.Fatalf("%q: got kind %v at %d (%s), want kind %v at %d", tc.src, pe.Kind, pe.Offset, pe.Message, tc.kind, tc.offset)
		}
	}
}

func TestParseNote(t *testing.T) {
	n, err := ParseNote(" a3 ")
	if err != nil || n.MIDI() != 57 {
		t.Fatalf("ParseNote(a3) = %+v, %v", n, err)
	}
	if _, err := ParseNote("h2"); err == nil {
		t.Fatalf("expected error for h2")
	}
	if _, err := ParseNote("c44"); err == nil {
		t.Fatalf("expected error for trailing text")
	}
}
