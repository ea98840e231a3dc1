package effects

import (
	"github.com/cwbudde/algo-dsp/dsp/core"
	algofx "github.com/cwbudde/algo-dsp/dsp/effects/reverb"
)

// Reverb is a comb/allpass room per channel. The right room is a touch
// smaller so the tails decorrelate.
type Reverb struct {
	rooms [2]*algofx.Reverb
}

func NewReverb(roomSize, damp, wet float64) *Reverb {
	wet = core.Clamp(wet, 0, 1)
	r := &Reverb{}
	for i := range r.rooms {
		room := algofx.NewReverb()
		size := core.Clamp(roomSize, 0, 0.98)
		if i == 1 {
			size *= 0.97
		}
		room.SetRoomSize(size)
		room.SetDamp(core.Clamp(damp, 0, 1))
		room.SetWet(wet)
		room.SetDry(1 - wet)
		r.rooms[i] = room
	}
	return r
}

func (r *Reverb) Process(l, rr float32) (float32, float32) {
	return float32(r.rooms[0].ProcessSample(float64(l))), float32(r.rooms[1].ProcessSample(float64(rr)))
}

func (r *Reverb) Reset() {
	for _, room := range r.rooms {
		room.Reset()
	}
}
