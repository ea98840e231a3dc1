package effects

import (
	"math"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
)

const (
	MaxFeedback = 0.95

	// MaxDelaySeconds bounds the line length: a dotted half at 20 bpm.
	MaxDelaySeconds = 9.0
)

// Delay is a stereo feedback delay. The delayed signal is mixed against the
// dry input; feedback re-enters the line on the same channel.
type Delay struct {
	sampleRate int
	lines      [2]*delay.Line
	frames     int
	feedback   float64
	mix        float64
}

// NewDelay builds a delay of seconds length. Feedback is clamped to
// [0, MaxFeedback] and mix to [0, 1].
func NewDelay(sampleRate int, seconds, feedback, mix float64) *Delay {
	d := &Delay{sampleRate: sampleRate}
	d.SetTime(seconds)
	d.SetFeedback(feedback)
	d.SetMix(mix)
	return d
}

// SetTime changes the delay length. The lines only grow; history already in
// them is kept, so a tempo change does not click.
func (d *Delay) SetTime(seconds float64) {
	if math.IsNaN(seconds) || seconds <= 0 {
		seconds = 1.0 / float64(d.sampleRate)
	}
	seconds = math.Min(seconds, MaxDelaySeconds)
	frames := int(math.Round(seconds * float64(d.sampleRate)))
	if frames < 1 {
		frames = 1
	}
	d.frames = frames
	if d.lines[0] != nil && d.lines[0].Len() >= frames {
		return
	}
	for ch := range d.lines {
		line, err := delay.New(frames)
		if err != nil {
			// frames >= 1, so New cannot fail
			panic(err)
		}
		if old := d.lines[ch]; old != nil {
			for i := old.Len(); i >= 1; i-- {
				line.Write(old.Read(i))
			}
		}
		d.lines[ch] = line
	}
}

func (d *Delay) SetFeedback(feedback float64) {
	d.feedback = core.Clamp(feedback, 0, MaxFeedback)
}

func (d *Delay) SetMix(mix float64) {
	d.mix = core.Clamp(mix, 0, 1)
}

// Frames is the current delay length in sample frames.
func (d *Delay) Frames() int {
	return d.frames
}

func (d *Delay) Process(l, r float32) (float32, float32) {
	return d.tap(0, l), d.tap(1, r)
}

func (d *Delay) tap(ch int, in float32) float32 {
	line := d.lines[ch]
	delayed := line.Read(d.frames)
	line.Write(core.FlushDenormals(float64(in) + delayed*d.feedback))
	return float32(float64(in)*(1-d.mix) + delayed*d.mix)
}

func (d *Delay) Reset() {
	for _, line := range d.lines {
		line.Reset()
	}
}

// ParseDelayTime converts a delay time to seconds at bpm. It accepts "Nms",
// a fraction of a whole note such as "1/8" or "3/16", and a dotted fraction
// such as "1/8." which is half again as long. Anything else is one beat.
func ParseDelayTime(s string, bpm float64) float64 {
	if bpm <= 0 {
		bpm = 120
	}
	beat := 60 / bpm
	s = strings.TrimSpace(s)
	if ms, ok := strings.CutSuffix(s, "ms"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(ms), 64); err == nil && v > 0 {
			return v / 1000
		}
		return beat
	}
	dotted := false
	if strings.HasSuffix(s, ".") {
		dotted = true
		s = strings.TrimSuffix(s, ".")
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return beat
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	dv, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err1 != nil || err2 != nil || n <= 0 || dv <= 0 {
		return beat
	}
	seconds := float64(n) / float64(dv) * 4 * beat
	if dotted {
		seconds *= 1.5
	}
	return seconds
}
