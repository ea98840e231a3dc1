package effects

import (
	"github.com/cwbudde/algo-dsp/dsp/effects/modulation"
)

// Chorus runs one modulated delay per channel. The right channel's LFO runs
// a little faster so the two sides drift apart.
type Chorus struct {
	ch [2]*modulation.Chorus
}

// NewChorus takes the base delay and depth in milliseconds, the LFO rate in
// Hz and the wet mix.
func NewChorus(sampleRate int, delayMs, depthMs, rateHz, mix float64) (*Chorus, error) {
	c := &Chorus{}
	for i := range c.ch {
		ch, err := modulation.NewChorus()
		if err != nil {
			return nil, err
		}
		rate := rateHz
		if i == 1 {
			rate *= 1.1
		}
		steps := []error{
			ch.SetSampleRate(float64(sampleRate)),
			ch.SetBaseDelay(delayMs / 1000),
			ch.SetDepth(depthMs / 1000),
			ch.SetSpeedHz(rate),
			ch.SetMix(mix),
		}
		for _, err := range steps {
			if err != nil {
				return nil, err
			}
		}
		c.ch[i] = ch
	}
	return c, nil
}

func (c *Chorus) Process(l, r float32) (float32, float32) {
	return float32(c.ch[0].ProcessSample(float64(l))), float32(c.ch[1].ProcessSample(float64(r)))
}

func (c *Chorus) Reset() {
	for _, ch := range c.ch {
		ch.Reset()
	}
}
