// Package groovebox plays step-sequenced sample patterns live. A Player owns
// one transport; edits pushed while it runs land on each track's next step
// boundary so the groove never stutters.
package groovebox

import (
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

// TrackConfig is the part of a track that shapes compilation.
type TrackConfig struct {
	Division int    // steps per beat; 0 means 4
	Root     string // note name the sample sounds at unshifted; "" means C4
	Playback timeline.Mode
	BPM      int // resolves millisecond gates
}

// Compile parses and compiles one pattern. A syntax error comes back as a
// *pattern.ParseError.
func Compile(src string, cfg TrackConfig) (*timeline.Timeline, error) {
	t := song.NewTrack("compile")
	t.Division = cfg.Division
	t.Root = cfg.Root
	t.Playback = cfg.Playback
	t.Normalize()
	bpm := cfg.BPM
	if bpm == 0 {
		bpm = song.DefaultBPM
	}
	tc, err := t.Config(song.ClampBPM(bpm))
	if err != nil {
		return nil, err
	}
	return timeline.CompileSource(src, tc)
}
