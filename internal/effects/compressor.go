package effects

import (
	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
)

// Compressor is a stereo soft-knee compressor. Each channel has its own
// detector.
type Compressor struct {
	ch [2]*dynamics.Compressor
}

// NewCompressor builds a compressor. A makeupDB of zero keeps automatic
// makeup gain.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) (*Compressor, error) {
	c := &Compressor{}
	for i := range c.ch {
		comp, err := dynamics.NewCompressor(float64(sampleRate))
		if err != nil {
			return nil, err
		}
		if err := comp.SetThreshold(thresholdDB); err != nil {
			return nil, err
		}
		if err := comp.SetRatio(ratio); err != nil {
			return nil, err
		}
		if err := comp.SetAttack(attackMs); err != nil {
			return nil, err
		}
		if err := comp.SetRelease(releaseMs); err != nil {
			return nil, err
		}
		if makeupDB != 0 {
			if err := comp.SetMakeupGain(makeupDB); err != nil {
				return nil, err
			}
		}
		c.ch[i] = comp
	}
	return c, nil
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	return float32(c.ch[0].ProcessSample(float64(l))), float32(c.ch[1].ProcessSample(float64(r)))
}

func (c *Compressor) Reset() {
	for _, ch := range c.ch {
		ch.Reset()
	}
}
