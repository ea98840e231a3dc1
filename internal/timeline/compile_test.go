package timeline

import (
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/cbegin/groovebox-go/internal/pattern"
)

func compile(t *testing.T, src string, cfg Config) *Timeline {
	t.Helper()
	tl, err := CompileSource(src, cfg)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return tl
}

func TestCompileFourOnTheFloor(t *testing.T) {
	tl := compile(t, "x...x...x...x...", Config{Division: 4})
	if tl.Steps != 16 {
		t.Fatalf("steps = %d, want 16", tl.Steps)
	}
	if len(tl.Events) != 4 {
		t.Fatalf("events = %d, want 4", len(tl.Events))
	}
	for i, ev := range tl.Events {
		if want := int64(i) * 4 * TicksPerStep; ev.Tick != want {
			t.Fatalf("event %d tick = %d, want %d", i, ev.Tick, want)
		}
		if ev.Length != TicksPerStep || ev.Gate != 1 {
			t.Fatalf("event %d length = %d gate = %v, want one full step", i, ev.Length, ev.Gate)
		}
	}
}

func TestCompileTieLaw(t *testing.T) {
	for n := 0; n <= 6; n++ {
		src := "x" + strings.Repeat("_", n)
		tl := compile(t, src, Config{})
		if len(tl.Events) != 1 {
			t.Fatalf("%q: events = %d, want 1", src, len(tl.Events))
		}
		ev := tl.Events[0]
		if want := int64(n+1) * TicksPerStep; ev.Length != want || ev.Span != want {
			t.Fatalf("%q: length = %d span = %d, want %d", src, ev.Length, ev.Span, want)
		}
		if ev.Holds != n {
			t.Fatalf("%q: holds = %d, want %d", src, ev.Holds, n)
		}
		for i := 1; i <= n; i++ {
			if !tl.Holds[i] {
				t.Fatalf("%q: step %d should be marked as held", src, i)
			}
		}
	}
}

func TestCompileTieThenRest(t *testing.T) {
	tl := compile(t, "x__.", Config{})
	if len(tl.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(tl.Events))
	}
	ev := tl.Events[0]
	if ev.Tick != 0 || ev.Length != 3*TicksPerStep {
		t.Fatalf("event = tick %d length %d, want tick 0 length %d", ev.Tick, ev.Length, 3*TicksPerStep)
	}
	if tl.Holds[3] {
		t.Fatalf("rest must not be held")
	}
}

func TestCompileTieScaledByGate(t *testing.T) {
	tl := compile(t, "x=1/2_", Config{})
	if want := int64(TicksPerStep); tl.Events[0].Length != want {
		t.Fatalf("length = %d, want %d", tl.Events[0].Length, want)
	}
}

func TestCompileRatchetLaw(t *testing.T) {
	for n := 1; n <= 12; n++ {
		tl := compile(t, "x{"+strconv.Itoa(n)+"}", Config{})
		if len(tl.Events) != n {
			t.Fatalf("x{%d}: events = %d", n, len(tl.Events))
		}
		step := int64(TicksPerStep / n)
		for i, ev := range tl.Events {
			if ev.Tick != int64(i)*step {
				t.Fatalf("x{%d}: event %d tick = %d, want %d", n, i, ev.Tick, int64(i)*step)
			}
			if ev.Tick >= TicksPerStep {
				t.Fatalf("x{%d}: event %d escapes the step", n, i)
			}
		}
	}
}

func TestCompileRatchetCeiling(t *testing.T) {
	tl := compile(t, "x{"+strconv.Itoa(pattern.MaxRatchet)+"}", Config{})
	if len(tl.Events) != pattern.MaxRatchet {
		t.Fatalf("events = %d, want %d", len(tl.Events), pattern.MaxRatchet)
	}
	for i, ev := range tl.Events {
		if ev.Span <= 0 {
			t.Fatalf("event %d span = %d", i, ev.Span)
		}
		if i > 0 && ev.Tick <= tl.Events[i-1].Tick {
			t.Fatalf("event %d tick %d does not advance", i, ev.Tick)
		}
	}

	h := pattern.Hit{Ratchet: 1 << 20, Velocity: pattern.Unset}
	built := Compile([]pattern.Step{{Kind: pattern.StepHit, Hits: []pattern.Hit{h}}}, Config{})
	if len(built.Events) != pattern.MaxRatchet {
		t.Fatalf("hand-built hit expanded to %d events, want %d", len(built.Events), pattern.MaxRatchet)
	}
}

func TestCompileRatchetThirds(t *testing.T) {
	tl := compile(t, "x{3}", Config{})
	want := []int64{0, TicksPerStep / 3, 2 * TicksPerStep / 3}
	for i, ev := range tl.Events {
		if ev.Tick != want[i] {
			t.Fatalf("event %d tick = %d, want %d", i, ev.Tick, want[i])
		}
		if ev.Gate != RatchetGate {
			t.Fatalf("event %d gate = %v, want %v", i, ev.Gate, RatchetGate)
		}
		if wantLen := int64(RatchetGate * float64(TicksPerStep/3)); ev.Length != wantLen {
			t.Fatalf("event %d length = %d, want %d", i, ev.Length, wantLen)
		}
	}
}

func TestCompileRatchetExplicitGateOverrides(t *testing.T) {
	tl := compile(t, "x{2}=1/2", Config{})
	for _, ev := range tl.Events {
		if ev.Gate != 0.5 || ev.Length != TicksPerStep/4 {
			t.Fatalf("gate = %v length = %d, want 0.5 of a half step", ev.Gate, ev.Length)
		}
	}
}

func TestCompileChordShareTick(t *testing.T) {
	tl := compile(t, "(x x+4 x+7)", Config{})
	if len(tl.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(tl.Events))
	}
	for i, want := range []int{0, 4, 7} {
		ev := tl.Events[i]
		if ev.Tick != 0 || ev.Pitch != want || ev.Slot != i {
			t.Fatalf("member %d = tick %d pitch %d slot %d", i, ev.Tick, ev.Pitch, ev.Slot)
		}
	}
}

func TestCompileVelocityAndAccent(t *testing.T) {
	tl := compile(t, "x X Xv50 xv0", Config{})
	want := []int{DefaultVelocity, AccentVelocity, 50, 0}
	for i, ev := range tl.Events {
		if ev.Velocity != want[i] {
			t.Fatalf("event %d velocity = %d, want %d", i, ev.Velocity, want[i])
		}
	}
	if tl.Events[3].Gain != 0 {
		t.Fatalf("velocity 0 must be silent, gain = %v", tl.Events[3].Gain)
	}
	prev := -1.0
	for v := 0; v <= 127; v++ {
		g := VelocityGain(v)
		if g < prev {
			t.Fatalf("velocity curve not monotonic at %d", v)
		}
		prev = g
	}
}

func TestCompileModeGateDefaults(t *testing.T) {
	oneShot := compile(t, "x{2} x=1/2", Config{Mode: ModeOneShot})
	if oneShot.Events[0].Length != -1 || oneShot.Events[1].Length != -1 {
		t.Fatalf("one-shot ratchets should be unclipped: %+v", oneShot.Events[:2])
	}
	if oneShot.Events[2].Gate != 0.5 {
		t.Fatalf("explicit gate must override the one-shot default, got %v", oneShot.Events[2].Gate)
	}
	mono := compile(t, "x_", Config{Mode: ModeMono})
	if mono.Events[0].Length != 2*TicksPerStep {
		t.Fatalf("mono default length = %d", mono.Events[0].Length)
	}
}

func TestCompileGateCap(t *testing.T) {
	tl := compile(t, "x=900%", Config{})
	if tl.Events[0].Gate != MaxGate {
		t.Fatalf("gate = %v, want capped at %v", tl.Events[0].Gate, MaxGate)
	}
}

func TestCompileMillisecondGate(t *testing.T) {
	// 120 bpm, division 4: one step is 125ms
	tl := compile(t, "x=62.5ms", Config{BPM: 120})
	ev := tl.Events[0]
	if ev.GateMS != 62.5 || ev.Gate != 0.5 {
		t.Fatalf("gate = %v (%vms), want 0.5", ev.Gate, ev.GateMS)
	}
}

func TestCompileNoteNamesAgainstRoot(t *testing.T) {
	tl := compile(t, "c4 e4 g3", Config{})
	want := []int{0, 4, -5}
	for i, ev := range tl.Events {
		if ev.Pitch != want[i] {
			t.Fatalf("event %d pitch = %d, want %d", i, ev.Pitch, want[i])
		}
	}
	rooted := compile(t, "a3+2", Config{Root: 57})
	if rooted.Events[0].Pitch != 2 {
		t.Fatalf("pitch relative to root = %d, want 2", rooted.Events[0].Pitch)
	}
}

func TestCompileCarriesInertMetadata(t *testing.T) {
	tl := compile(t, "x?25%@2/4@-5ms[cut=3]~7", Config{})
	ev := tl.Events[0]
	if ev.Probability != 0.25 {
		t.Fatalf("probability = %v", ev.Probability)
	}
	if ev.Cycle != (pattern.Cycle{Hit: 2, Of: 4}) {
		t.Fatalf("cycle = %+v", ev.Cycle)
	}
	if ev.Nudge.Unit != pattern.UnitMillis || ev.Nudge.Amount != -5 {
		t.Fatalf("nudge = %+v", ev.Nudge)
	}
	if len(ev.Locks) != 1 || ev.Locks[0].Key != "cut" {
		t.Fatalf("locks = %+v", ev.Locks)
	}
	if len(ev.Extra) != 1 || ev.Extra[0].Raw != "~7" {
		t.Fatalf("extra = %+v", ev.Extra)
	}
}

func TestCompileIdempotent(t *testing.T) {
	src := "x..X (x x+3)*2 x+(0,7)?50%_ .. c4=3/4 x@1/2 x~9"
	cfg := Config{Division: 3, Mode: ModeMono}
	a := compile(t, src, cfg)
	b := compile(t, src, cfg)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("compiling twice produced different timelines")
	}
}

func TestCompileReturnsParseError(t *testing.T) {
	_, err := CompileSource("x{", Config{})
	if _, ok := err.(*pattern.ParseError); !ok {
		t.Fatalf("expected *pattern.ParseError, got %T", err)
	}
}

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{"gate": ModeGate, "clip": ModeGate, "replace": ModeMono, "one_shot": ModeOneShot, "OneShot": ModeOneShot}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("loop"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
