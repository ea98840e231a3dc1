package effects

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// shelfQ is the Butterworth slope used for every band.
const shelfQ = 1 / math.Sqrt2

// stereoSections runs one biquad per band on each channel.
type stereoSections struct {
	l, r []*biquad.Section
}

func newStereoSections(coeffs []biquad.Coefficients) stereoSections {
	s := stereoSections{l: make([]*biquad.Section, len(coeffs)), r: make([]*biquad.Section, len(coeffs))}
	for i, c := range coeffs {
		s.l[i] = biquad.NewSection(c)
		s.r[i] = biquad.NewSection(c)
	}
	return s
}

func (s stereoSections) set(i int, c biquad.Coefficients) {
	s.l[i].Coefficients = c
	s.r[i].Coefficients = c
}

func (s stereoSections) process(l, r float32) (float32, float32) {
	x, y := float64(l), float64(r)
	for i := range s.l {
		x = s.l[i].ProcessSample(x)
		y = s.r[i].ProcessSample(y)
	}
	return float32(x), float32(y)
}

func (s stereoSections) reset() {
	for i := range s.l {
		s.l[i].Reset()
		s.r[i].Reset()
	}
}

// EQ3Band is a low shelf, a mid peak and a high shelf. Gains are in dB.
type EQ3Band struct {
	sections stereoSections
}

func NewEQ3Band(sampleRate int, lowDB, midDB, highDB, lowHz, highHz float64) *EQ3Band {
	sr := float64(sampleRate)
	mid := math.Sqrt(lowHz * highHz)
	return &EQ3Band{sections: newStereoSections([]biquad.Coefficients{
		design.LowShelf(lowHz, lowDB, shelfQ, sr),
		design.Peak(mid, midDB, 0.7, sr),
		design.HighShelf(highHz, highDB, shelfQ, sr),
	})}
}

func (eq *EQ3Band) Process(l, r float32) (float32, float32) {
	return eq.sections.process(l, r)
}

func (eq *EQ3Band) Reset() {
	eq.sections.reset()
}
