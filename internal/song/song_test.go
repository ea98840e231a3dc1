package song

import (
	"errors"
	"testing"

	"github.com/cbegin/groovebox-go/internal/timeline"
)

func testSong(t *testing.T, names ...string) *Song {
	t.Helper()
	s := New()
	for _, name := range names {
		if _, err := s.AddTrack(NewTrack(name)); err != nil {
			t.Fatalf("add %q: %v", name, err)
		}
	}
	return s
}

func TestTrackIDsAreStable(t *testing.T) {
	s := testSong(t, "kick", "snare", "hat")
	snare, _ := s.Resolve("snare")
	if err := s.RemoveTrack(s.Tracks[0].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := s.Resolve("snare")
	if err != nil || got != snare {
		t.Fatalf("snare id changed: %d -> %d (%v)", snare, got, err)
	}
	added, err := s.AddTrack(NewTrack("clap"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID <= s.Tracks[1].ID {
		t.Fatalf("new id %d must not reuse a previous id", added.ID)
	}
}

func TestResolveByNameAndIndex(t *testing.T) {
	s := testSong(t, "Kick", "snare")
	if id, err := s.Resolve("kick"); err != nil || id != s.Tracks[0].ID {
		t.Fatalf("case-insensitive name: %d, %v", id, err)
	}
	if id, err := s.Resolve("2"); err != nil || id != s.Tracks[1].ID {
		t.Fatalf("index: %d, %v", id, err)
	}
	for _, ref := range []string{"0", "3", "tom"} {
		if _, err := s.Resolve(ref); !errors.Is(err, ErrTrackNotFound) {
			t.Fatalf("Resolve(%q) err = %v, want ErrTrackNotFound", ref, err)
		}
	}
}

func TestAddTrackRejectsDuplicates(t *testing.T) {
	s := testSong(t, "kick")
	if _, err := s.AddTrack(NewTrack("KICK")); !errors.Is(err, ErrDuplicateTrack) {
		t.Fatalf("err = %v, want ErrDuplicateTrack", err)
	}
	if _, err := s.AddTrack(NewTrack("  ")); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestRemoveMissingTrack(t *testing.T) {
	s := testSong(t)
	if err := s.RemoveTrack(42); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSoloRule(t *testing.T) {
	s := testSong(t, "kick", "snare", "hat")
	s.Tracks[0].Mute = true
	if s.Audible(s.Tracks[0]) || !s.Audible(s.Tracks[1]) {
		t.Fatalf("without solo, mute decides")
	}
	s.Tracks[0].Solo = true
	s.Tracks[2].Solo = true
	want := []bool{true, false, true}
	for i, tr := range s.Tracks {
		if got := s.Audible(tr); got != want[i] {
			t.Fatalf("track %d audible = %v, want %v", i, got, want[i])
		}
	}
}

func TestVariations(t *testing.T) {
	tr := NewTrack("bass")
	tr.SetPattern("x...")
	if tr.Pattern() != "x..." || tr.Variations[MainVariation] != "x..." {
		t.Fatalf("main pattern = %q", tr.Pattern())
	}
	if err := tr.SelectVariation("fill"); !errors.Is(err, ErrVariationNotFound) {
		t.Fatalf("err = %v", err)
	}
	tr.Variations["fill"] = "xxxx"
	tr.Variations["b"] = "x.x."
	if err := tr.SelectVariation("fill"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if tr.Pattern() != "xxxx" {
		t.Fatalf("active pattern = %q", tr.Pattern())
	}
	names := tr.VariationNames()
	if len(names) != 3 || names[0] != MainVariation || names[1] != "b" || names[2] != "fill" {
		t.Fatalf("names = %v", names)
	}
}

func TestNormalizeRepairsTrack(t *testing.T) {
	s := &Song{BPM: 5000, Swing: -3, Tracks: []*Track{{Name: "a", Active: "gone", Division: 500}}}
	s.Normalize()
	if s.BPM != MaxBPM || s.Swing != 0 || s.Steps != DefaultSteps {
		t.Fatalf("song = bpm %d swing %d steps %d", s.BPM, s.Swing, s.Steps)
	}
	tr := s.Tracks[0]
	if tr.ID == 0 || tr.Active != MainVariation || tr.Division != MaxDivision || tr.Delay.Time != "1/4" {
		t.Fatalf("track not repaired: %+v", tr)
	}
	if _, ok := tr.Variations[MainVariation]; !ok {
		t.Fatalf("main variation missing")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := testSong(t, "kick")
	s.Tracks[0].SetPattern("x...")
	c := s.Clone()
	c.Tracks[0].SetPattern("....")
	c.Tracks[0].Mute = true
	if s.Tracks[0].Pattern() != "x..." || s.Tracks[0].Mute {
		t.Fatalf("clone shares state with the original")
	}
}

func TestTrackConfig(t *testing.T) {
	tr := NewTrack("keys")
	tr.Root = "a3"
	tr.Playback = timeline.ModeMono
	tr.Division = 3
	cfg, err := tr.Config(90)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Root != 57 || cfg.Mode != timeline.ModeMono || cfg.Division != 3 || cfg.BPM != 90 {
		t.Fatalf("config = %+v", cfg)
	}
	tr.Root = "zz"
	if _, err := tr.Config(90); err == nil {
		t.Fatalf("expected error for bad root")
	}
}

func TestClamps(t *testing.T) {
	if ClampBPM(1) != MinBPM || ClampBPM(1000) != MaxBPM || ClampBPM(128) != 128 {
		t.Fatalf("bpm clamp")
	}
	if ClampSwing(101) != MaxSwing || ClampDivision(0) != MinDivision || ClampDivision(65) != MaxDivision {
		t.Fatalf("swing/division clamp")
	}
}
