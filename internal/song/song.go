package song

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cbegin/groovebox-go/internal/pattern"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

var (
	ErrTrackNotFound     = errors.New("track not found")
	ErrDuplicateTrack    = errors.New("duplicate track name")
	ErrVariationNotFound = errors.New("variation not found")
)

const (
	MinBPM        = 20
	MaxBPM        = 999
	DefaultBPM    = 120
	DefaultSteps  = 16
	MaxSwing      = 100
	MinDivision   = 1
	MaxDivision   = 64
	MainVariation = "main"
)

// TrackID is stable for the lifetime of a Song; it is never reused after
// a track is removed.
type TrackID int

type Delay struct {
	On       bool
	Time     string
	Feedback float64
	Mix      float64
}

func DefaultDelay() Delay {
	return Delay{Time: "1/4", Feedback: 0.35, Mix: 0.25}
}

type Track struct {
	ID         TrackID
	Name       string
	Sample     string
	Division   int
	Playback   timeline.Mode
	GainDB     float64
	Mute       bool
	Solo       bool
	Delay      Delay
	Root       string
	Variations map[string]string
	Active     string
}

func NewTrack(name string) *Track {
	return &Track{
		Name:       name,
		Division:   timeline.DefaultDivision,
		Delay:      DefaultDelay(),
		Variations: map[string]string{MainVariation: ""},
		Active:     MainVariation,
	}
}

// Pattern returns the raw source of the active variation.
func (t *Track) Pattern() string {
	return t.Variations[t.Active]
}

// SetPattern replaces the source of the active variation.
func (t *Track) SetPattern(src string) {
	t.ensureVariations()
	t.Variations[t.Active] = src
}

// SelectVariation makes name the active variation.
func (t *Track) SelectVariation(name string) error {
	if _, ok := t.Variations[name]; !ok {
		return fmt.Errorf("%w: %q on track %q", ErrVariationNotFound, name, t.Name)
	}
	t.Active = name
	return nil
}

// VariationNames lists variations with main first.
func (t *Track) VariationNames() []string {
	names := make([]string, 0, len(t.Variations))
	for name := range t.Variations {
		if name != MainVariation {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{MainVariation}, names...)
}

// RootMIDI resolves the root note name; zero means the compiler default.
func (t *Track) RootMIDI() (int, error) {
	if strings.TrimSpace(t.Root) == "" {
		return 0, nil
	}
	n, err := pattern.ParseNote(t.Root)
	if err != nil {
		return 0, fmt.Errorf("track %q root: %w", t.Name, err)
	}
	return n.MIDI(), nil
}

// Config is the compiler view of this track.
func (t *Track) Config(bpm int) (timeline.Config, error) {
	root, err := t.RootMIDI()
	if err != nil {
		return timeline.Config{}, err
	}
	return timeline.Config{
		Division: t.Division,
		Root:     root,
		Mode:     t.Playback,
		BPM:      float64(bpm),
	}, nil
}

// Normalize fills defaults and repairs the variation invariants: main
// always exists and Active always names an existing variation.
func (t *Track) Normalize() {
	t.ensureVariations()
	if t.Division <= 0 {
		t.Division = timeline.DefaultDivision
	}
	t.Division = ClampDivision(t.Division)
	if t.Active == "" {
		t.Active = MainVariation
	}
	if _, ok := t.Variations[t.Active]; !ok {
		t.Active = MainVariation
	}
	if t.Delay.Time == "" {
		t.Delay.Time = DefaultDelay().Time
	}
}

func (t *Track) ensureVariations() {
	if t.Variations == nil {
		t.Variations = map[string]string{}
	}
	if _, ok := t.Variations[MainVariation]; !ok {
		t.Variations[MainVariation] = ""
	}
	if t.Active == "" {
		t.Active = MainVariation
	}
}

func (t *Track) Clone() *Track {
	out := *t
	out.Variations = make(map[string]string, len(t.Variations))
	for k, v := range t.Variations {
		out.Variations[k] = v
	}
	return &out
}

type Song struct {
	BPM    int
	Steps  int
	Swing  int
	Repeat bool
	Tracks []*Track
	// Effects describes the master insert chain, one effect per entry,
	// e.g. "reverb 0.6,0.4,0.2".
	Effects []string

	nextID TrackID
}

func New() *Song {
	return &Song{BPM: DefaultBPM, Steps: DefaultSteps, Repeat: true}
}

// Normalize clamps song-level values, repairs every track and assigns IDs
// to tracks that have none. It is called after loading.
func (s *Song) Normalize() {
	if s.BPM == 0 {
		s.BPM = DefaultBPM
	}
	s.BPM = ClampBPM(s.BPM)
	if s.Steps <= 0 {
		s.Steps = DefaultSteps
	}
	s.Swing = ClampSwing(s.Swing)
	for _, t := range s.Tracks {
		t.Normalize()
		if t.ID > s.nextID {
			s.nextID = t.ID
		}
	}
	for _, t := range s.Tracks {
		if t.ID == 0 {
			s.nextID++
			t.ID = s.nextID
		}
	}
}

func (s *Song) AddTrack(t *Track) (*Track, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.New("track name must not be empty")
	}
	if _, err := s.byName(t.Name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTrack, t.Name)
	}
	t.Normalize()
	s.nextID++
	t.ID = s.nextID
	s.Tracks = append(s.Tracks, t)
	return t, nil
}

func (s *Song) RemoveTrack(id TrackID) error {
	for i, t := range s.Tracks {
		if t.ID == id {
			s.Tracks = append(s.Tracks[:i], s.Tracks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrTrackNotFound, id)
}

func (s *Song) Track(id TrackID) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Resolve maps a user reference to a stable ID. A reference is a track
// name (exact, then case-insensitive) or a 1-based position.
func (s *Song) Resolve(ref string) (TrackID, error) {
	ref = strings.TrimSpace(ref)
	if t, err := s.byName(ref); err == nil {
		return t.ID, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(s.Tracks) {
			return s.Tracks[n-1].ID, nil
		}
		return 0, fmt.Errorf("%w: index %d (have %d tracks)", ErrTrackNotFound, n, len(s.Tracks))
	}
	return 0, fmt.Errorf("%w: %q", ErrTrackNotFound, ref)
}

func (s *Song) byName(name string) (*Track, error) {
	for _, t := range s.Tracks {
		if t.Name == name {
			return t, nil
		}
	}
	for _, t := range s.Tracks {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, ErrTrackNotFound
}

func (s *Song) AnySolo() bool {
	for _, t := range s.Tracks {
		if t.Solo {
			return true
		}
	}
	return false
}

// Audible applies the solo rule: with any track soloed, only soloed tracks
// play, whatever their mute flag says.
func (s *Song) Audible(t *Track) bool {
	return Audible(t.Mute, t.Solo, s.AnySolo())
}

func Audible(mute, solo, anySolo bool) bool {
	if anySolo {
		return solo
	}
	return !mute
}

func (s *Song) Clone() *Song {
	out := *s
	out.Tracks = make([]*Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	out.Effects = append([]string(nil), s.Effects...)
	return &out
}

func ClampBPM(bpm int) int {
	return clampInt(bpm, MinBPM, MaxBPM)
}

func ClampSwing(swing int) int {
	return clampInt(swing, 0, MaxSwing)
}

func ClampDivision(div int) int {
	return clampInt(div, MinDivision, MaxDivision)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
