package effects

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// EQBands is the number of master EQ bands.
const EQBands = 5

// Band centres: a low shelf, three peaks and a high shelf.
var eqCentres = [EQBands]float64{200, 500, 1400, 4500, 8000}

// minEQDB is where a zero gain lands.
const minEQDB = -48

// EQ5Band is the master equalizer. Gains are linear (1 is flat) and may be
// set from any goroutine; the filters are redesigned on the audio thread the
// next time Process runs.
type EQ5Band struct {
	sampleRate float64
	gains      [EQBands]atomic.Uint32 // float32 bits
	version    atomic.Uint64
	applied    uint64
	sections   stereoSections
}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{sampleRate: float64(sampleRate)}
	coeffs := make([]biquad.Coefficients, EQBands)
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
		coeffs[i] = eq.design(i, 0)
	}
	eq.sections = newStereoSections(coeffs)
	return eq
}

func (eq *EQ5Band) design(band int, gainDB float64) biquad.Coefficients {
	switch band {
	case 0:
		return design.LowShelf(eqCentres[band], gainDB, shelfQ, eq.sampleRate)
	case EQBands - 1:
		return design.HighShelf(eqCentres[band], gainDB, shelfQ, eq.sampleRate)
	default:
		return design.Peak(eqCentres[band], gainDB, 1, eq.sampleRate)
	}
}

// SetGain sets band 0-4. 1.0 = unity, 0.0 = as quiet as the filter goes,
// 2.0 = +6dB.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band < 0 || band >= EQBands || math.IsNaN(float64(gain)) {
		return
	}
	eq.gains[band].Store(math.Float32bits(max(gain, 0)))
	eq.version.Add(1)
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 0 && band < EQBands {
		return math.Float32frombits(eq.gains[band].Load())
	}
	return 1
}

func (eq *EQ5Band) refresh() {
	v := eq.version.Load()
	if v == eq.applied {
		return
	}
	eq.applied = v
	for i := range eq.gains {
		g := float64(eq.Gain(i))
		db := float64(minEQDB)
		if g > 0 {
			db = math.Max(core.LinearToDB(g), minEQDB)
		}
		eq.sections.set(i, eq.design(i, db))
	}
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	eq.refresh()
	return eq.sections.process(l, r)
}

// ProcessBlock filters interleaved stereo frames in place.
func (eq *EQ5Band) ProcessBlock(buf []float32) {
	eq.refresh()
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = eq.sections.process(buf[i], buf[i+1])
	}
}

func (eq *EQ5Band) Reset() {
	eq.sections.reset()
}
