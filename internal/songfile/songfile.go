// Package songfile reads and writes songs as YAML documents.
package songfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

type document struct {
	BPM     int        `yaml:"bpm"`
	Steps   int        `yaml:"steps"`
	Swing   int        `yaml:"swing"`
	Repeat  *bool      `yaml:"repeat,omitempty"`
	Effects []string   `yaml:"effects,omitempty"`
	Tracks  []trackDoc `yaml:"tracks"`
}

type delayDoc struct {
	On       bool     `yaml:"on"`
	Time     string   `yaml:"time,omitempty"`
	Feedback *float64 `yaml:"feedback,omitempty"`
	Mix      *float64 `yaml:"mix,omitempty"`
}

type trackDoc struct {
	Name     string        `yaml:"name"`
	Sample   string        `yaml:"sample,omitempty"`
	Div      int           `yaml:"div,omitempty"`
	Playback timeline.Mode `yaml:"playback"`
	GainDB   float64       `yaml:"gain_db"`
	Mute     bool          `yaml:"mute"`
	Solo     bool          `yaml:"solo"`
	Root     string        `yaml:"root,omitempty"`
	Delay    *delayDoc     `yaml:"delay,omitempty"`

	// Pattern is the single-pattern form; it becomes the main variation.
	Pattern    string            `yaml:"pattern,omitempty"`
	Variations map[string]string `yaml:"variations,omitempty"`
	Active     string            `yaml:"active,omitempty"`
}

// Unmarshal decodes a YAML song. Missing fields take their defaults and the
// result is normalized, so IDs are assigned and values are clamped.
func Unmarshal(b []byte) (*song.Song, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("songfile: %w", err)
	}
	s := song.New()
	if doc.BPM != 0 {
		s.BPM = doc.BPM
	}
	if doc.Steps != 0 {
		s.Steps = doc.Steps
	}
	s.Swing = doc.Swing
	if doc.Repeat != nil {
		s.Repeat = *doc.Repeat
	}
	s.Effects = doc.Effects
	for i, td := range doc.Tracks {
		t, err := td.track()
		if err != nil {
			return nil, fmt.Errorf("songfile: track %d: %w", i+1, err)
		}
		if _, err := s.AddTrack(t); err != nil {
			return nil, fmt.Errorf("songfile: track %d: %w", i+1, err)
		}
	}
	s.Normalize()
	return s, nil
}

func (td trackDoc) track() (*song.Track, error) {
	t := song.NewTrack(td.Name)
	t.Sample = td.Sample
	if td.Div != 0 {
		t.Division = td.Div
	}
	t.Playback = td.Playback
	t.GainDB = td.GainDB
	t.Mute = td.Mute
	t.Solo = td.Solo
	t.Root = td.Root
	if td.Delay != nil {
		t.Delay.On = td.Delay.On
		if td.Delay.Time != "" {
			t.Delay.Time = td.Delay.Time
		}
		if td.Delay.Feedback != nil {
			t.Delay.Feedback = *td.Delay.Feedback
		}
		if td.Delay.Mix != nil {
			t.Delay.Mix = *td.Delay.Mix
		}
	}
	if td.Pattern != "" && len(td.Variations) > 0 {
		if _, ok := td.Variations[song.MainVariation]; ok {
			return nil, fmt.Errorf("%q sets both pattern and variations.main", td.Name)
		}
	}
	for name, src := range td.Variations {
		t.Variations[name] = src
	}
	if td.Pattern != "" {
		t.Variations[song.MainVariation] = td.Pattern
	}
	if td.Active != "" {
		if err := t.SelectVariation(td.Active); err != nil {
			return nil, err
		}
	}
	if _, err := t.RootMIDI(); err != nil {
		return nil, err
	}
	return t, nil
}

// Marshal encodes s. Pattern sources are written verbatim.
func Marshal(s *song.Song) ([]byte, error) {
	repeat := s.Repeat
	doc := document{
		BPM:     s.BPM,
		Steps:   s.Steps,
		Swing:   s.Swing,
		Repeat:  &repeat,
		Effects: s.Effects,
	}
	for _, t := range s.Tracks {
		fb, mix := t.Delay.Feedback, t.Delay.Mix
		td := trackDoc{
			Name:     t.Name,
			Sample:   t.Sample,
			Div:      t.Division,
			Playback: t.Playback,
			GainDB:   t.GainDB,
			Mute:     t.Mute,
			Solo:     t.Solo,
			Root:     t.Root,
			Delay:    &delayDoc{On: t.Delay.On, Time: t.Delay.Time, Feedback: &fb, Mix: &mix},
		}
		if len(t.Variations) == 1 {
			td.Pattern = t.Variations[song.MainVariation]
		} else {
			td.Variations = t.Variations
			if t.Active != song.MainVariation {
				td.Active = t.Active
			}
		}
		doc.Tracks = append(doc.Tracks, td)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("songfile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("songfile: %w", err)
	}
	return buf.Bytes(), nil
}

func Read(r io.Reader) (*song.Song, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("songfile: %w", err)
	}
	return Unmarshal(b)
}

func Write(w io.Writer, s *song.Song) error {
	b, err := Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func Load(path string) (*song.Song, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Save(path string, s *song.Song) error {
	b, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
