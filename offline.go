package groovebox

import (
	"errors"
	"io"
	"math"

	wav "github.com/youpy/go-wav"

	intfx "github.com/cbegin/groovebox-go/internal/effects"
	"github.com/cbegin/groovebox-go/internal/live"
	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/sampler"
	intseq "github.com/cbegin/groovebox-go/internal/sequencer"
	"github.com/cbegin/groovebox-go/internal/song"
)

// RenderSamples plays s without a device and returns interleaved stereo
// frames. A song with Repeat off stops after its longest track's first loop;
// the rest of the buffer holds the fade and silence.
func RenderSamples(s *song.Song, bank samplebank.Bank, sampleRate int, seconds float64, seed uint64) ([]float32, error) {
	if s == nil {
		return nil, errors.New("nil song")
	}
	if seconds < 0 || math.IsNaN(seconds) {
		return nil, errors.New("seconds must not be negative")
	}
	p, err := NewPlayer(sampleRate, WithSampleBank(bank), WithSeed(seed))
	if err != nil {
		return nil, err
	}
	next := s.Clone()
	next.Normalize()
	fx, err := intfx.ParseChain(next.Effects, sampleRate)
	if err != nil {
		return nil, err
	}
	tracks := make(map[song.TrackID]live.Track, len(next.Tracks))
	for _, t := range next.Tracks {
		lt, err := p.buildTrack(t, next)
		if err != nil {
			return nil, err
		}
		tracks[t.ID] = lt
	}

	engine := sampler.New(sampleRate, sampler.DefaultMaxVoices)
	queue := live.NewQueue(0)
	bus := &masterBus{effects: fx}
	bus.seq = intseq.NewWithOptions(engine, queue, snapshotOf(next, tracks), sampleRate, intseq.Options{
		Seed: seed,
		OnFault: func(f intseq.Fault) {
			p.cfg.logger.Printf("groovebox: %v", f)
		},
	})

	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	if !next.Repeat {
		if loop := loopFrames(next, tracks, sampleRate); loop < frames {
			bus.Process(out[:loop*2])
			queue.Stop()
			bus.Process(out[loop*2:])
			return out, nil
		}
	}
	bus.Process(out)
	return out, nil
}

// loopFrames is the length of the longest track loop. Swing never changes a
// loop's length.
func loopFrames(s *song.Song, tracks map[song.TrackID]live.Track, sampleRate int) int {
	longest := 0
	for _, t := range tracks {
		tl := t.Timeline
		if tl == nil || tl.Steps == 0 {
			continue
		}
		div := tl.Division
		if div <= 0 {
			div = 4
		}
		secs := float64(tl.Steps) * 60 / (float64(s.BPM) * float64(div))
		if n := int(math.Ceil(secs * float64(sampleRate))); n > longest {
			longest = n
		}
	}
	return longest
}

// WriteWAV encodes interleaved stereo float frames as 16-bit PCM. Values
// outside [-1, 1] are clipped.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("sampleRate must be positive")
	}
	frames := len(samples) / 2
	ww := wav.NewWriter(w, uint32(frames), 2, uint32(sampleRate), 16)
	buf := make([]wav.Sample, frames)
	for i := range buf {
		buf[i].Values[0] = pcm16(samples[2*i])
		buf[i].Values[1] = pcm16(samples[2*i+1])
	}
	return ww.WriteSamples(buf)
}

func pcm16(v float32) int {
	if v != v {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(float64(v) * math.MaxInt16))
}
