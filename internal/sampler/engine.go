// Package sampler is the voice engine: it plays decoded samples at a pitch,
// sums them into one bus per track and mixes the busses down.
package sampler

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/viterin/vek/vek32"

	"github.com/cbegin/groovebox-go/internal/effects"
	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/song"
)

const (
	DefaultMaxVoices = 64

	// FadeSeconds is the ramp used whenever a voice is cut before its sample
	// ends.
	FadeSeconds = 0.003
)

// Trigger describes one voice to start at the engine's current frame.
type Trigger struct {
	Key       Key
	Sample    *samplebank.Sample
	Stop      int64 // absolute frame, or NoStop
	Semitones float64
	Gain      float64 // linear
	Pan       float64 // -1..1
	Start     float64 // 0..1 of the sample length
}

// DelayConfig is the per-track delay send.
type DelayConfig struct {
	On       bool
	Seconds  float64
	Feedback float64
	Mix      float64
}

type bus struct {
	id      song.TrackID
	gain    float32
	audible atomic.Bool
	delay   *effects.Delay
	fx      *effects.Chain
	delayOn bool
	removed bool
	l, r    []float32
}

// Engine must only be used from the audio thread, except for SetMasterGain
// and MasterGain.
type Engine struct {
	sampleRate int
	fadeFrames int64
	voices     []voice
	serial     uint64
	now        int64
	busses     []*bus
	mixL, mixR []float32
	masterGain atomic.Uint64
}

func New(sampleRate, maxVoices int) *Engine {
	if maxVoices <= 0 {
		maxVoices = DefaultMaxVoices
	}
	fade := int64(math.Round(FadeSeconds * float64(sampleRate)))
	if fade < 1 {
		fade = 1
	}
	e := &Engine{
		sampleRate: sampleRate,
		fadeFrames: fade,
		voices:     make([]voice, maxVoices),
	}
	e.masterGain.Store(math.Float64bits(1))
	return e
}

// Now is the number of frames rendered so far.
func (e *Engine) Now() int64 { return e.now }

func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) FadeFrames() int64 { return e.fadeFrames }

// SetMasterGain is safe to call from any goroutine.
func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 || math.IsNaN(gain) {
		gain = 0
	}
	e.masterGain.Store(math.Float64bits(gain))
}

func (e *Engine) MasterGain() float64 {
	return math.Float64frombits(e.masterGain.Load())
}

func (e *Engine) bus(id song.TrackID) *bus {
	for _, b := range e.busses {
		if b.id == id && !b.removed {
			return b
		}
	}
	return nil
}

// AddTrack creates the bus for a track, or revives it if it was removed.
func (e *Engine) AddTrack(id song.TrackID, gainDB float64, audible bool) {
	b := e.bus(id)
	if b == nil {
		b = &bus{id: id}
		e.busses = append(e.busses, b)
	}
	b.gain = float32(core.DBToLinear(gainDB))
	b.audible.Store(audible)
}

// RemoveTrack fades out the track's voices. The bus is dropped once they
// have finished.
func (e *Engine) RemoveTrack(id song.TrackID) {
	b := e.bus(id)
	if b == nil {
		return
	}
	e.Steal(id)
	b.removed = true
}

func (e *Engine) HasTrack(id song.TrackID) bool {
	return e.bus(id) != nil
}

func (e *Engine) SetGain(id song.TrackID, gainDB float64) {
	if b := e.bus(id); b != nil {
		b.gain = float32(core.DBToLinear(gainDB))
	}
}

func (e *Engine) SetAudible(id song.TrackID, audible bool) {
	if b := e.bus(id); b != nil {
		b.audible.Store(audible)
	}
}

// Audible reports the bus flag; an unknown track is never audible.
func (e *Engine) Audible(id song.TrackID) bool {
	if b := e.bus(id); b != nil {
		return b.audible.Load()
	}
	return false
}

func (e *Engine) SetDelay(id song.TrackID, cfg DelayConfig) {
	b := e.bus(id)
	if b == nil {
		return
	}
	if b.delay == nil {
		if !cfg.On {
			return
		}
		b.delay = effects.NewDelay(e.sampleRate, cfg.Seconds, cfg.Feedback, cfg.Mix)
		b.fx = effects.NewChain(b.delay)
	} else {
		b.delay.SetTime(cfg.Seconds)
		b.delay.SetFeedback(cfg.Feedback)
		b.delay.SetMix(cfg.Mix)
	}
	if !cfg.On && b.delayOn {
		b.fx.Reset()
	}
	b.delayOn = cfg.On
}

// Trigger starts a voice. It reports false when the track has no bus or the
// trigger cannot produce sound.
func (e *Engine) Trigger(t Trigger) bool {
	if t.Sample == nil || t.Sample.Frames() == 0 || t.Sample.Rate <= 0 {
		return false
	}
	if e.bus(t.Key.Track) == nil {
		return false
	}
	speed := math.Exp2(t.Semitones/12) * float64(t.Sample.Rate) / float64(e.sampleRate)
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return false
	}
	if math.IsNaN(t.Gain) || math.IsInf(t.Gain, 0) {
		return false
	}
	if t.Stop != NoStop && t.Stop <= e.now {
		return false
	}
	start := core.Clamp(t.Start, 0, 1) * float64(t.Sample.Frames())
	gl, gr := panGains(t.Pan)
	g := float32(math.Max(t.Gain, 0))

	slot := e.freeVoice()
	e.serial++
	e.voices[slot] = voice{
		active:  true,
		key:     t.Key,
		serial:  e.serial,
		sample:  t.Sample,
		pos:     start,
		speed:   speed,
		gainL:   g * gl,
		gainR:   g * gr,
		stop:    t.Stop,
		fadeLen: e.fadeFor(t.Stop),
	}
	return true
}

func (e *Engine) fadeFor(stop int64) int64 {
	if stop == NoStop {
		return e.fadeFrames
	}
	if n := stop - e.now; n < e.fadeFrames {
		return max(n, 1)
	}
	return e.fadeFrames
}

// freeVoice returns an idle voice, or the oldest one when all are busy.
func (e *Engine) freeVoice() int {
	oldest := 0
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
		if e.voices[i].serial < e.voices[oldest].serial {
			oldest = i
		}
	}
	return oldest
}

// Steal fades out every voice on a track.
func (e *Engine) Steal(track song.TrackID) {
	stop := e.now + e.fadeFrames
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active || v.key.Track != track {
			continue
		}
		if v.stop == NoStop || v.stop > stop {
			v.stop = stop
			v.fadeLen = e.fadeFrames
		}
	}
}

// StopAll fades out every voice.
func (e *Engine) StopAll() {
	for _, b := range e.busses {
		e.Steal(b.id)
	}
}

// Extend moves the planned stop of the newest voice on key. It does nothing
// for voices without a planned stop.
func (e *Engine) Extend(key Key, stop int64) bool {
	v := e.current(key)
	if v == nil || v.stop == NoStop || stop <= e.now {
		return false
	}
	v.stop = stop
	v.fadeLen = e.fadeFor(stop)
	return true
}

// Current reports the planned stop of the newest voice on key.
func (e *Engine) Current(key Key) (int64, bool) {
	if v := e.current(key); v != nil {
		return v.stop, true
	}
	return 0, false
}

func (e *Engine) current(key Key) *voice {
	var best *voice
	for i := range e.voices {
		v := &e.voices[i]
		if v.active && v.key == key && (best == nil || v.serial > best.serial) {
			best = v
		}
	}
	return best
}

func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

// TrackVoices counts the active voices on one track.
func (e *Engine) TrackVoices(track song.TrackID) int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active && e.voices[i].key.Track == track {
			n++
		}
	}
	return n
}

// Render writes len(dst)/2 interleaved stereo frames and advances the clock.
func (e *Engine) Render(dst []float32) {
	frames := len(dst) / 2
	if frames == 0 {
		return
	}
	e.mixL = grow(e.mixL, frames)
	e.mixR = grow(e.mixR, frames)
	clear(e.mixL)
	clear(e.mixR)
	for _, b := range e.busses {
		b.l = grow(b.l, frames)
		b.r = grow(b.r, frames)
		clear(b.l)
		clear(b.r)
	}
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}
		b := e.busFor(v.key.Track)
		if b == nil || !v.render(b.l, b.r, e.now) {
			v.active = false
		}
	}
	live := e.busses[:0]
	for _, b := range e.busses {
		if b.delayOn {
			for i := 0; i < frames; i++ {
				b.l[i], b.r[i] = b.fx.Process(b.l[i], b.r[i])
			}
		}
		gain := b.gain
		if !b.audible.Load() {
			gain = 0
		}
		vek32.MulNumber_Inplace(b.l, gain)
		vek32.MulNumber_Inplace(b.r, gain)
		vek32.Add_Inplace(e.mixL, b.l)
		vek32.Add_Inplace(e.mixR, b.r)
		if b.removed && e.TrackVoices(b.id) == 0 {
			continue
		}
		live = append(live, b)
	}
	clear(e.busses[len(live):])
	e.busses = live

	master := float32(e.MasterGain())
	for i := 0; i < frames; i++ {
		dst[i*2] = e.mixL[i] * master
		dst[i*2+1] = e.mixR[i] * master
	}
	e.now += int64(frames)
}

// busFor finds the bus a sounding voice renders into, including a removed
// bus that is still fading out.
func (e *Engine) busFor(id song.TrackID) *bus {
	var found *bus
	for _, b := range e.busses {
		if b.id == id {
			found = b
			if !b.removed {
				return b
			}
		}
	}
	return found
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
