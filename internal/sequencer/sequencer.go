// Package sequencer is the step transport. It runs on the audio thread: each
// Process call drains pending edits, fires every event that falls due and
// renders the audio in between in whole blocks.
package sequencer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cbegin/groovebox-go/internal/effects"
	"github.com/cbegin/groovebox-go/internal/live"
	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/sampler"
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

// VoiceEngine is the subset of *sampler.Engine the transport drives.
type VoiceEngine interface {
	Now() int64
	Render(dst []float32)
	Trigger(t sampler.Trigger) bool
	// Steal fades out every voice on the track.
	Steal(track song.TrackID)
	// Extend moves the planned stop of the newest voice on key.
	Extend(key sampler.Key, stop int64) bool
	StopAll()
	ActiveVoiceCount() int
	AddTrack(id song.TrackID, gainDB float64, audible bool)
	RemoveTrack(id song.TrackID)
	SetGain(id song.TrackID, gainDB float64)
	SetAudible(id song.TrackID, audible bool)
	SetDelay(id song.TrackID, cfg sampler.DelayConfig)
}

// EventKind identifies transport lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventStopped
)

type Event struct {
	Kind  EventKind
	Track song.TrackID
	Loop  int
}

type FaultKind int

const (
	FaultMissingSample FaultKind = iota
	FaultInvalidValue
	FaultPanic
)

func (k FaultKind) String() string {
	switch k {
	case FaultMissingSample:
		return "missing sample"
	case FaultInvalidValue:
		return "invalid value"
	default:
		return "panic"
	}
}

// Fault is a problem met while playing. The event that caused it is skipped
// and playback carries on.
type Fault struct {
	Kind  FaultKind
	Track song.TrackID
	Err   error
}

func (f Fault) Error() string {
	return fmt.Sprintf("track %d: %s: %v", f.Track, f.Kind, f.Err)
}

func (f Fault) Unwrap() error { return f.Err }

type Options struct {
	// Seed feeds every track's probability generator together with its ID.
	Seed uint64
	// OnEvent and OnFault run on the audio thread and must not block.
	OnEvent func(Event)
	OnFault func(Fault)
}

// TrackState is a read-only view of one track's playhead.
type TrackState struct {
	ID           song.TrackID
	Name         string
	PlayheadTick int64
	Step         int
	Loop         int
}

type trackLive struct {
	id   song.TrackID
	name string
	tick atomic.Int64
	step atomic.Int64
	loop atomic.Int64
}

// held is a sounding voice whose span crosses later step boundaries.
type held struct {
	startFrame   int64
	logicalFrame int64
	end          int64
	gate         float64
}

type pending struct {
	timeline    *timeline.Timeline
	hasTimeline bool
	delay       *song.Delay
	sample      *samplebank.Sample
	sampleName  string
	hasSample   bool
}

type track struct {
	id         song.TrackID
	name       string
	tl         *timeline.Timeline
	sched      []entry
	steps      int
	division   int
	mode       timeline.Mode
	loopLen    int64
	clock      clock
	loopBase   int64
	loop       int
	step       int // next boundary to process; steps means the loop end
	next       int // next entry to fire
	visits     []int
	visitLoop  []int
	rng        *rand.Rand
	held       map[int]held
	lastSteal  int64
	sample     *samplebank.Sample
	sampleName string
	faulted    bool
	mix        live.Mix
	delay      song.Delay
	pend       pending
	hasPend    bool
	live       *trackLive
}

// visit counts loop visits of a step; repeated calls within one loop return
// the same count.
func (tr *track) visit(step int) int {
	if tr.visitLoop[step] != tr.loop+1 {
		tr.visitLoop[step] = tr.loop + 1
		tr.visits[step]++
	}
	return tr.visits[step]
}

type Sequencer struct {
	engine     VoiceEngine
	queue      *live.Queue
	sampleRate int
	seed       uint64
	bpm        int
	swing      int
	beat       clock
	tracks     []*track

	pendingBPM   int
	pendingSwing int
	hasGlobal    bool
	retimed      bool

	running atomic.Bool
	lives   atomic.Pointer[[]*trackLive]

	onEvent func(Event)
	onFault func(Fault)
}

func New(engine VoiceEngine, queue *live.Queue, snap *live.Snapshot, sampleRate int) *Sequencer {
	return NewWithOptions(engine, queue, snap, sampleRate, Options{})
}

// NewWithOptions builds a running transport positioned at the start of every
// track's loop.
func NewWithOptions(engine VoiceEngine, queue *live.Queue, snap *live.Snapshot, sampleRate int, opts Options) *Sequencer {
	if snap == nil {
		snap = &live.Snapshot{}
	}
	bpm := snap.BPM
	if bpm == 0 {
		bpm = song.DefaultBPM
	}
	s := &Sequencer{
		engine:       engine,
		queue:        queue,
		sampleRate:   sampleRate,
		seed:         opts.Seed,
		bpm:          song.ClampBPM(bpm),
		swing:        song.ClampSwing(snap.Swing),
		pendingSwing: -1,
		onEvent:      opts.OnEvent,
		onFault:      opts.OnFault,
	}
	now := engine.Now()
	s.beat = newClock(sampleRate, s.bpm, 1)
	s.beat.anchor(now, 0)
	for _, t := range snap.Tracks {
		s.addTrack(t, now)
	}
	s.refreshAudible()
	s.publish()
	s.running.Store(true)
	return s
}

func (s *Sequencer) Running() bool {
	return s.running.Load()
}

// BPM and Swing are the values in effect; read them from the audio thread.
func (s *Sequencer) BPM() int   { return s.bpm }
func (s *Sequencer) Swing() int { return s.swing }

// LiveState is safe to call from any goroutine.
func (s *Sequencer) LiveState() []TrackState {
	p := s.lives.Load()
	if p == nil {
		return nil
	}
	out := make([]TrackState, len(*p))
	for i, l := range *p {
		out[i] = TrackState{
			ID:           l.id,
			Name:         l.name,
			PlayheadTick: l.tick.Load(),
			Step:         int(l.step.Load()),
			Loop:         int(l.loop.Load()),
		}
	}
	return out
}

// Process fills dst with interleaved stereo frames. It never panics: a
// failure is reported as a fault and the rest of the buffer is silent.
func (s *Sequencer) Process(dst []float32) {
	defer func() {
		if r := recover(); r != nil {
			clear(dst)
			s.fault(Fault{Kind: FaultPanic, Err: fmt.Errorf("process: %v", r)})
		}
	}()
	if s.queue != nil {
		s.queue.Drain(s.apply)
		if s.queue.Stopped() && s.running.Load() {
			s.halt()
		}
	}
	frames := len(dst) / 2
	done := 0
	for done < frames {
		now := s.engine.Now()
		next := int64(math.MaxInt64)
		if s.running.Load() {
			next = s.dispatch(now)
		}
		n := frames - done
		if next-now < int64(n) {
			n = int(next - now)
		}
		if n <= 0 {
			n = 1
		}
		s.engine.Render(dst[done*2 : (done+n)*2])
		done += n
	}
}

// dispatch handles everything due at or before now and returns the next due
// frame. A tempo or swing change moves every track, so it starts over.
func (s *Sequencer) dispatch(now int64) int64 {
	for {
		s.retimed = false
		next := int64(math.MaxInt64)
		for _, tr := range s.tracks {
			if due := s.advance(tr, now); due < next {
				next = due
			}
			if s.retimed {
				break
			}
		}
		if !s.retimed {
			return next
		}
	}
}

func (s *Sequencer) advance(tr *track, now int64) int64 {
	for {
		due, boundary := s.nextDue(tr)
		if due > now {
			return due
		}
		if boundary {
			s.boundary(tr, now)
		} else {
			e := &tr.sched[tr.next]
			tr.next++
			s.fire(tr, e, now)
		}
		if s.retimed {
			return now
		}
	}
}

func (s *Sequencer) nextDue(tr *track) (int64, bool) {
	if tr.steps == 0 {
		return math.MaxInt64, false
	}
	b := tr.loopBase + boundaryPos(tr.step, tr.steps, s.swing)
	if tr.next < len(tr.sched) {
		if at := tr.loopBase + tr.sched[tr.next].at; at < b {
			return tr.clock.frameAt(at), false
		}
	}
	return tr.clock.frameAt(b), true
}

// boundary starts step tr.step. Gated edits land here.
func (s *Sequencer) boundary(tr *track, frame int64) {
	if tr.step >= tr.steps {
		tr.loopBase += tr.loopLen
		tr.loop++
		tr.step = 0
		tr.next = 0
		tr.live.loop.Store(int64(tr.loop))
		s.emit(Event{Kind: EventLoopCompleted, Track: tr.id, Loop: tr.loop})
	}
	if s.hasGlobal {
		s.applyGlobal(frame)
		tr.clock.anchor(frame, tr.loopBase+boundaryPos(tr.step, tr.steps, s.swing))
	}
	if tr.hasPend && s.applyPending(tr, frame) {
		return
	}
	k := tr.step
	pos := tr.loopBase + boundaryPos(k, tr.steps, s.swing)
	if tr.tl.Holds[k] {
		for slot, h := range tr.held {
			if h.end <= pos {
				delete(tr.held, slot)
				continue
			}
			length := h.gate * float64(tr.clock.frameAt(h.end)-h.logicalFrame)
			s.engine.Extend(sampler.Key{Track: tr.id, Slot: slot}, h.startFrame+int64(math.Round(length)))
		}
	} else {
		clear(tr.held)
	}
	tr.live.tick.Store(int64(k) * timeline.TicksPerStep)
	tr.live.step.Store(int64(k))
	tr.step++
}

func (s *Sequencer) fire(tr *track, e *entry, frame int64) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(Fault{Kind: FaultPanic, Track: tr.id, Err: fmt.Errorf("step %d: %v", e.step, r)})
		}
	}()
	ev := e.ev
	counter := tr.visit(e.step)
	if ev.Cycle.Valid() && !ev.Cycle.Fires(counter) {
		return
	}
	if ev.Probability < 1 && tr.rng.Float64() >= ev.Probability {
		return
	}
	if tr.sample == nil {
		if !tr.faulted {
			tr.faulted = true
			s.fault(Fault{Kind: FaultMissingSample, Track: tr.id, Err: fmt.Errorf("%w: %q", samplebank.ErrNotFound, tr.sampleName)})
		}
		return
	}

	logicalFrame := tr.clock.frameAt(tr.loopBase + e.logical)
	stop := sampler.NoStop
	gate := ev.Gate
	if ev.GateMS > 0 {
		gate = math.Min(ev.GateMS/1000/stepSeconds(s.bpm, tr.division), timeline.MaxGate)
	}
	if gate >= 0 {
		span := tr.clock.frameAt(tr.loopBase+e.end) - logicalFrame
		length := int64(math.Round(gate * float64(span)))
		if length <= 0 {
			return
		}
		stop = frame + length
	}
	gain := ev.Gain * core.DBToLinear(e.gainDB)
	if !finite(gain) || !finite(e.pan) || !finite(gate) {
		s.fault(Fault{Kind: FaultInvalidValue, Track: tr.id, Err: fmt.Errorf("step %d: gain %v gate %v", e.step, gain, gate)})
		return
	}
	if tr.mode == timeline.ModeMono && tr.lastSteal != frame {
		s.engine.Steal(tr.id)
		tr.lastSteal = frame
	}
	ok := s.engine.Trigger(sampler.Trigger{
		Key:       sampler.Key{Track: tr.id, Slot: ev.Slot},
		Sample:    tr.sample,
		Stop:      stop,
		Semitones: float64(ev.Pitch),
		Gain:      gain,
		Pan:       e.pan,
		Start:     e.start,
	})
	if ok && ev.Holds > 0 && stop != sampler.NoStop {
		tr.held[ev.Slot] = held{startFrame: frame, logicalFrame: logicalFrame, end: tr.loopBase + e.end, gate: gate}
	} else {
		delete(tr.held, ev.Slot)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *Sequencer) apply(m live.Message) {
	now := s.engine.Now()
	switch m.Kind {
	case live.KindSnapshot:
		if m.Snapshot != nil {
			s.applySnapshot(m.Snapshot, now)
		}
	case live.KindTempo:
		s.pendingBPM = song.ClampBPM(m.BPM)
		s.hasGlobal = true
	case live.KindSwing:
		s.pendingSwing = song.ClampSwing(m.Swing)
		s.hasGlobal = true
	case live.KindTimeline:
		if tr := s.track(m.Track); tr != nil {
			tr.pend.timeline = m.Timeline
			tr.pend.hasTimeline = true
			tr.hasPend = true
		}
	case live.KindDelay:
		if tr := s.track(m.Track); tr != nil {
			d := m.Delay
			tr.pend.delay = &d
			tr.hasPend = true
		}
	case live.KindSample:
		if tr := s.track(m.Track); tr != nil {
			tr.pend.sample = m.Sample
			tr.pend.sampleName = m.Name
			tr.pend.hasSample = true
			tr.hasPend = true
		}
	case live.KindMix:
		if tr := s.track(m.Track); tr != nil {
			tr.mix = m.Mix
			s.engine.SetGain(tr.id, m.Mix.GainDB)
			s.refreshAudible()
		}
	case live.KindAddTrack:
		if m.Add != nil && s.track(m.Add.ID) == nil {
			s.addTrack(*m.Add, now)
			s.refreshAudible()
			s.publish()
		}
	case live.KindRemoveTrack:
		s.removeTrack(m.Track)
	}
	s.settleIdle(now)
}

// settleIdle applies edits that no boundary will ever pick up: those for
// tracks with nothing to play, and tempo changes when no track is playing.
func (s *Sequencer) settleIdle(now int64) {
	playing := false
	for _, tr := range s.tracks {
		if tr.steps == 0 && tr.hasPend {
			s.applyPending(tr, now)
		}
		if tr.steps > 0 {
			playing = true
		}
	}
	if s.hasGlobal && !playing {
		s.applyGlobal(now)
	}
}

func (s *Sequencer) applySnapshot(snap *live.Snapshot, now int64) {
	if snap.BPM != 0 && song.ClampBPM(snap.BPM) != s.bpm {
		s.pendingBPM = song.ClampBPM(snap.BPM)
		s.hasGlobal = true
	}
	if sw := song.ClampSwing(snap.Swing); sw != s.swing {
		s.pendingSwing = sw
		s.hasGlobal = true
	}
	seen := make(map[song.TrackID]bool, len(snap.Tracks))
	for _, t := range snap.Tracks {
		seen[t.ID] = true
		tr := s.track(t.ID)
		if tr == nil {
			s.addTrack(t, now)
			continue
		}
		tr.name = t.Name
		tr.mix = t.Mix
		s.engine.SetGain(tr.id, t.Mix.GainDB)
		if t.Timeline != tr.tl {
			tr.pend.timeline = t.Timeline
			tr.pend.hasTimeline = true
			tr.hasPend = true
		}
		if t.Sample != tr.sample || t.SampleName != tr.sampleName {
			tr.pend.sample = t.Sample
			tr.pend.sampleName = t.SampleName
			tr.pend.hasSample = true
			tr.hasPend = true
		}
		if t.Delay != tr.delay {
			d := t.Delay
			tr.pend.delay = &d
			tr.hasPend = true
		}
	}
	for i := len(s.tracks) - 1; i >= 0; i-- {
		if !seen[s.tracks[i].id] {
			s.removeTrack(s.tracks[i].id)
		}
	}
	s.refreshAudible()
	s.publish()
}

func (s *Sequencer) track(id song.TrackID) *track {
	for _, tr := range s.tracks {
		if tr.id == id {
			return tr
		}
	}
	return nil
}

func (s *Sequencer) addTrack(t live.Track, frame int64) {
	tr := &track{
		id:         t.ID,
		name:       t.Name,
		sample:     t.Sample,
		sampleName: t.SampleName,
		mix:        t.Mix,
		delay:      t.Delay,
		held:       map[int]held{},
		lastSteal:  -1,
		live:       &trackLive{id: t.ID, name: t.Name},
	}
	s.engine.AddTrack(t.ID, t.Mix.GainDB, true)
	s.engine.SetDelay(t.ID, s.delayConfig(t.Delay))
	s.install(tr, t.Timeline, frame)
	s.tracks = append(s.tracks, tr)
}

func (s *Sequencer) removeTrack(id song.TrackID) {
	for i, tr := range s.tracks {
		if tr.id == id {
			s.engine.RemoveTrack(id)
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			s.refreshAudible()
			s.publish()
			return
		}
	}
}

// install swaps in a timeline. Cycle counters, the probability stream and
// tie bookkeeping start over; sounding voices are left alone.
func (s *Sequencer) install(tr *track, tl *timeline.Timeline, frame int64) {
	tr.tl = tl
	tr.steps = 0
	tr.division = timeline.DefaultDivision
	tr.mode = timeline.ModeGate
	if tl != nil {
		tr.steps = tl.Steps
		tr.mode = tl.Mode
		if tl.Division > 0 {
			tr.division = song.ClampDivision(tl.Division)
		}
	}
	tr.visits = make([]int, tr.steps)
	tr.visitLoop = make([]int, tr.steps)
	tr.rng = rand.New(rand.NewPCG(s.seed, uint64(tr.id)))
	clear(tr.held)
	tr.loop = 0
	tr.sched = layout(tl, s.swing, s.bpm)
	tr.loopLen = boundaryPos(tr.steps, tr.steps, s.swing)
	tr.clock = newClock(s.sampleRate, s.bpm, tr.division)
	tr.live.loop.Store(0)
	if tr.steps == 0 {
		tr.step, tr.next = 0, 0
		return
	}
	s.place(tr, frame)
}

// place puts a track where it would be had it been playing since the
// transport started, so tracks with the same division share one grid.
func (s *Sequencer) place(tr *track, frame int64) {
	abs := s.beat.posAt(frame) * int64(tr.division)
	pos := abs % tr.loopLen
	tr.loopBase = abs - pos
	j := stepAt(pos, tr.steps, s.swing)
	if start := boundaryPos(j, tr.steps, s.swing); tr.clock.sameFrame(start, pos) {
		pos = start
	}
	tr.clock.anchor(frame, tr.loopBase+pos)
	tr.step = j
	tr.next = firstAt(tr.sched, pos)
}

// applyPending reports whether a new timeline was installed, in which case
// the cursor has been moved.
func (s *Sequencer) applyPending(tr *track, frame int64) bool {
	p := tr.pend
	tr.pend = pending{}
	tr.hasPend = false
	if p.hasSample {
		tr.sample = p.sample
		tr.sampleName = p.sampleName
		tr.faulted = false
	}
	if p.delay != nil {
		tr.delay = *p.delay
		s.engine.SetDelay(tr.id, s.delayConfig(tr.delay))
	}
	if p.hasTimeline {
		s.install(tr, p.timeline, frame)
		return true
	}
	return false
}

// applyGlobal moves every track to a new tempo or swing at frame. Cursors
// keep their place in the event list; entries that now lie in the past fire
// straight away.
func (s *Sequencer) applyGlobal(frame int64) {
	if s.pendingBPM != 0 && s.pendingBPM != s.bpm {
		s.bpm = s.pendingBPM
		s.beat.retime(frame, s.sampleRate, s.bpm, 1)
		for _, tr := range s.tracks {
			tr.clock.retime(frame, s.sampleRate, s.bpm, tr.division)
			if tr.delay.On {
				s.engine.SetDelay(tr.id, s.delayConfig(tr.delay))
			}
		}
	}
	if s.pendingSwing >= 0 {
		s.swing = s.pendingSwing
	}
	for _, tr := range s.tracks {
		tr.sched = layout(tr.tl, s.swing, s.bpm)
	}
	s.pendingBPM = 0
	s.pendingSwing = -1
	s.hasGlobal = false
	s.retimed = true
}

func (s *Sequencer) delayConfig(d song.Delay) sampler.DelayConfig {
	return sampler.DelayConfig{
		On:       d.On,
		Seconds:  effects.ParseDelayTime(d.Time, float64(s.bpm)),
		Feedback: d.Feedback,
		Mix:      d.Mix,
	}
}

func (s *Sequencer) refreshAudible() {
	anySolo := false
	for _, tr := range s.tracks {
		if tr.mix.Solo {
			anySolo = true
			break
		}
	}
	for _, tr := range s.tracks {
		s.engine.SetAudible(tr.id, song.Audible(tr.mix.Mute, tr.mix.Solo, anySolo))
	}
}

func (s *Sequencer) publish() {
	lives := make([]*trackLive, len(s.tracks))
	for i, tr := range s.tracks {
		if tr.live.name != tr.name {
			fresh := &trackLive{id: tr.id, name: tr.name}
			fresh.tick.Store(tr.live.tick.Load())
			fresh.step.Store(tr.live.step.Load())
			fresh.loop.Store(tr.live.loop.Load())
			tr.live = fresh
		}
		lives[i] = tr.live
	}
	s.lives.Store(&lives)
}

// halt stops the transport and fades out every voice.
func (s *Sequencer) halt() {
	s.engine.StopAll()
	for _, tr := range s.tracks {
		clear(tr.held)
	}
	s.running.Store(false)
	s.emit(Event{Kind: EventStopped})
}

func (s *Sequencer) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Sequencer) fault(f Fault) {
	if s.onFault != nil {
		s.onFault(f)
	}
}
