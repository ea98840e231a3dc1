package effects

import (
	"math"
	"strings"
	"testing"
)

func settle(fx Effector, in float32, frames int) (float32, float32) {
	var l, r float32
	for i := 0; i < frames; i++ {
		l, r = fx.Process(in, in)
	}
	return l, r
}

func TestEQ5BandFlatIsTransparent(t *testing.T) {
	eq := NewEQ5Band(48000)
	l, r := settle(eq, 0.5, 4800)
	if math.Abs(float64(l)-0.5) > 1e-3 || math.Abs(float64(r)-0.5) > 1e-3 {
		t.Fatalf("flat EQ changed DC: (%f, %f)", l, r)
	}
}

func TestEQ5BandLowShelfCutsDC(t *testing.T) {
	eq := NewEQ5Band(48000)
	eq.SetGain(0, 0.25)
	if eq.Gain(0) != 0.25 {
		t.Fatalf("gain = %v", eq.Gain(0))
	}
	l, _ := settle(eq, 1, 9600)
	if math.Abs(float64(l)-0.25) > 0.02 {
		t.Fatalf("low shelf at 0.25 passed DC at %f", l)
	}
	eq.SetGain(7, 3)
	eq.SetGain(1, float32(math.NaN()))
	if eq.Gain(7) != 1 || eq.Gain(1) != 1 {
		t.Fatalf("out-of-range or NaN gains must be ignored")
	}
}

func TestEQ5BandBlockMatchesFrames(t *testing.T) {
	a, b := NewEQ5Band(48000), NewEQ5Band(48000)
	a.SetGain(4, 2)
	b.SetGain(4, 2)
	buf := make([]float32, 512)
	for i := range buf {
		buf[i] = float32(math.Sin(float64(i) * 0.3))
	}
	want := make([]float32, len(buf))
	for i := 0; i < len(buf); i += 2 {
		want[i], want[i+1] = a.Process(buf[i], buf[i+1])
	}
	b.ProcessBlock(buf)
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("sample %d: block %f, frame %f", i, buf[i], want[i])
		}
	}
}

func TestCompressorNarrowsDynamics(t *testing.T) {
	loud, err := NewCompressor(48000, -20, 4, 1, 50, 0)
	if err != nil {
		t.Fatalf("compressor: %v", err)
	}
	quiet, _ := NewCompressor(48000, -20, 4, 1, 50, 0)
	ll, _ := settle(loud, 1, 4800)
	ql, _ := settle(quiet, 0.01, 4800)
	ratio := float64(ll / ql)
	if ratio >= 50 || ratio <= 1 {
		t.Fatalf("40 dB input range came out as %.1fx", ratio)
	}
	if _, err := NewCompressor(48000, -20, 0.5, 1, 50, 0); err == nil {
		t.Fatalf("ratio below 1 should be rejected")
	}
}

func TestReverbDryOnlyPassesThrough(t *testing.T) {
	r := NewReverb(0.7, 0.5, 0)
	if l, rr := r.Process(0.5, -0.25); l != 0.5 || rr != -0.25 {
		t.Fatalf("dry reverb = (%f, %f)", l, rr)
	}
}

func TestReverbLeavesTail(t *testing.T) {
	r := NewReverb(0.8, 0.3, 1)
	r.Process(1, 1)
	var energy float64
	for i := 0; i < 4000; i++ {
		l, _ := r.Process(0, 0)
		energy += float64(l * l)
	}
	if energy == 0 {
		t.Fatalf("no reverb tail")
	}
	r.Reset()
	if l, _ := r.Process(0, 0); l != 0 {
		t.Fatalf("reset left state behind: %f", l)
	}
}

func TestParseEffects(t *testing.T) {
	for _, desc := range []string{
		"delay 250,0.4,0.3",
		"reverb",
		"REVERB 0.9, 0.2, 0.3",
		"chorus 15,3,1.5,0.4",
		"dist 4",
		"eq -3,0,2",
		"comp -18,3",
	} {
		fx, err := Parse(desc, 48000)
		if err != nil || fx == nil {
			t.Fatalf("Parse(%q) = %v, %v", desc, fx, err)
		}
		l, r := fx.Process(0.1, 0.1)
		if math.IsNaN(float64(l)) || math.IsNaN(float64(r)) {
			t.Fatalf("%q produced NaN", desc)
		}
	}
	errs := map[string]string{
		"":            "empty",
		"flanger 1,2": "unknown effect",
		"delay x":     "bad parameter",
		"dist 100":    "drive",
	}
	for desc, want := range errs {
		if _, err := Parse(desc, 48000); err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("Parse(%q) err = %v, want %q", desc, err, want)
		}
	}
}

func TestParseChain(t *testing.T) {
	chain, err := ParseChain([]string{"eq 0,0,0", "comp"}, 48000)
	if err != nil || len(chain.effects) != 2 {
		t.Fatalf("chain = %v, %v", chain, err)
	}
	if _, err := ParseChain([]string{"reverb", "nope"}, 48000); err == nil || !strings.Contains(err.Error(), "master effect 2") {
		t.Fatalf("err = %v", err)
	}
}
