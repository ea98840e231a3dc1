package effects

import (
	algofx "github.com/cwbudde/algo-dsp/dsp/effects"
)

// Distortion is a tanh waveshaper on both channels.
type Distortion struct {
	ch [2]*algofx.Distortion
}

func NewDistortion(sampleRate int, drive, mix, level float64) (*Distortion, error) {
	d := &Distortion{}
	for i := range d.ch {
		ch, err := algofx.NewDistortion(float64(sampleRate),
			algofx.WithDistortionMode(algofx.DistortionModeTanh),
			algofx.WithDistortionDrive(drive),
			algofx.WithDistortionMix(mix),
			algofx.WithDistortionOutputLevel(level),
		)
		if err != nil {
			return nil, err
		}
		d.ch[i] = ch
	}
	return d, nil
}

func (d *Distortion) Process(l, r float32) (float32, float32) {
	return float32(d.ch[0].ProcessSample(float64(l))), float32(d.ch[1].ProcessSample(float64(r)))
}

func (d *Distortion) Reset() {
	for _, ch := range d.ch {
		ch.Reset()
	}
}
