package sampler

import (
	"github.com/cwbudde/algo-dsp/dsp/interp"

	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/song"
)

// Key identifies the voices one track slot owns. Slot is the chord member
// index of the event that started the voice.
type Key struct {
	Track song.TrackID
	Slot  int
}

// NoStop marks a voice that plays to the end of its sample.
const NoStop int64 = -1

type voice struct {
	active bool
	key    Key
	serial uint64
	sample *samplebank.Sample
	pos    float64
	speed  float64
	gainL  float32
	gainR  float32
	// stop is the frame at which the voice is silent; the fade ends there.
	stop    int64
	fadeLen int64
}

// render mixes up to len(l) frames into l and r starting at frame now. It
// reports false once the voice has finished.
func (v *voice) render(l, r []float32, now int64) bool {
	s := v.sample
	frames := s.Frames()
	stereo := s.Stereo()
	for i := range l {
		if v.pos >= float64(frames) {
			return false
		}
		env := float32(1)
		if v.stop != NoStop {
			left := v.stop - (now + int64(i))
			if left <= 0 {
				return false
			}
			if left < v.fadeLen {
				env = float32(left) / float32(v.fadeLen)
			}
		}
		idx := int(v.pos)
		t := v.pos - float64(idx)
		sl := hermite(s.L, idx, t)
		sr := sl
		if stereo {
			sr = hermite(s.R, idx, t)
		}
		l[i] += sl * v.gainL * env
		r[i] += sr * v.gainR * env
		v.pos += v.speed
	}
	return true
}

func hermite(data []float32, idx int, t float64) float32 {
	at := func(i int) float64 {
		if i < 0 || i >= len(data) {
			return 0
		}
		return float64(data[i])
	}
	if t == 0 {
		return float32(at(idx))
	}
	return float32(interp.Hermite4(t, at(idx-1), at(idx), at(idx+1), at(idx+2)))
}

// panGains is a balance law: the centre is unity on both sides and the far
// side falls off linearly.
func panGains(pan float64) (float32, float32) {
	if pan < -1 {
		pan = -1
	}
	if pan > 1 {
		pan = 1
	}
	l, r := 1.0, 1.0
	if pan > 0 {
		l = 1 - pan
	} else {
		r = 1 + pan
	}
	return float32(l), float32(r)
}
