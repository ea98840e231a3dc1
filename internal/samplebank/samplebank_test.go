package samplebank

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	wav "github.com/youpy/go-wav"
)

func encode(t *testing.T, channels uint16, values [][2]int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(values)), channels, 22050, 16)
	samples := make([]wav.Sample, len(values))
	for i, v := range values {
		samples[i] = wav.Sample{Values: v}
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	return buf.Bytes()
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-3
}

func TestDecodeStereo(t *testing.T) {
	raw := encode(t, 2, [][2]int{{16384, -16384}, {0, 8192}, {-32768, 0}})
	s, err := Decode("st", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Rate != 22050 || s.Frames() != 3 || !s.Stereo() {
		t.Fatalf("sample = rate %d frames %d stereo %v", s.Rate, s.Frames(), s.Stereo())
	}
	wantL := []float32{0.5, 0, -1}
	wantR := []float32{-0.5, 0.25, 0}
	for i := range wantL {
		if !near(s.L[i], wantL[i]) || !near(s.R[i], wantR[i]) {
			t.Fatalf("frame %d = (%v, %v), want (%v, %v)", i, s.L[i], s.R[i], wantL[i], wantR[i])
		}
	}
}

func TestDecodeMonoSharesChannels(t *testing.T) {
	raw := encode(t, 1, [][2]int{{16384, 0}, {-16384, 0}})
	s, err := Decode("mono", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Stereo() || s.Frames() != 2 || !near(s.R[1], -0.5) {
		t.Fatalf("mono sample = %+v", s)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("junk", bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDirLoadCachesAndReportsMissing(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "kick.wav"), encode(t, 1, [][2]int{{1000, 0}}), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := NewDir(root)
	a, err := d.Load("kick")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b, err := d.Load("kick")
	if err != nil || a != b {
		t.Fatalf("second load should hit the cache")
	}
	if _, err := d.Load("snare"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	names, err := d.Names()
	if err != nil || len(names) != 1 || names[0] != "kick" {
		t.Fatalf("names = %v, %v", names, err)
	}
}

func TestMapBank(t *testing.T) {
	m := Map{"hat": {Name: "hat", Rate: 44100}}
	if s, err := m.Load("hat"); err != nil || s.Name != "hat" {
		t.Fatalf("load = %+v, %v", s, err)
	}
	if _, err := m.Load("tom"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
