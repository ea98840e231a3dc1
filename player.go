package groovebox

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	intaudio "github.com/cbegin/groovebox-go/internal/audio"
	intfx "github.com/cbegin/groovebox-go/internal/effects"
	"github.com/cbegin/groovebox-go/internal/live"
	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/sampler"
	intseq "github.com/cbegin/groovebox-go/internal/sequencer"
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

// EventKind tags what a Watch event reports.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventStopped
	EventFault
)

// Event carries transport events from Watch(). Err is set for EventFault.
type Event struct {
	Kind  EventKind
	Track song.TrackID
	Loop  int
	Err   error
}

// OutputFactory opens the device stream a Player renders into.
type OutputFactory = intaudio.Factory

// Update edits a song. It runs on a private copy; returning an error
// discards the copy and nothing reaches the transport.
type Update func(s *song.Song) error

// TrackState is one track's playhead as seen by Snapshot.
type TrackState = intseq.TrackState

// LiveState is a cheap, lock-minimal view of the transport.
type LiveState struct {
	Running bool
	BPM     int
	Swing   int
	Tracks  []TrackState
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	logger    *log.Logger
	seed      uint64
	bank      samplebank.Bank
	output    OutputFactory
	sampleTap func([]float32)
	queueSize int
	maxVoices int
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		logger:    log.Default(),
		output:    intaudio.Open,
		queueSize: live.DefaultQueueSize,
		maxVoices: sampler.DefaultMaxVoices,
	}
}

func WithLogger(logger *log.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithSeed fixes the probability generators so a song plays the same way
// every time.
func WithSeed(seed uint64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.seed = seed
	}
}

func WithSampleBank(bank samplebank.Bank) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bank = bank
	}
}

// WithOutput replaces the system audio device.
func WithOutput(factory OutputFactory) PlayerOption {
	return func(cfg *playerConfig) {
		if factory != nil {
			cfg.output = factory
		}
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

func WithQueueSize(size int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.queueSize = size
	}
}

func WithMaxVoices(n int) PlayerOption {
	return func(cfg *playerConfig) {
		if n > 0 {
			cfg.maxVoices = n
		}
	}
}

// masterBus wraps the sequencer with the master inserts and implements
// SampleSource + FinishingSource.
type masterBus struct {
	seq       *intseq.Sequencer
	finished  atomic.Bool
	effects   *intfx.Chain
	masterEQ  *intfx.EQ5Band
	sampleTap func([]float32)
}

func (b *masterBus) Process(dst []float32) {
	b.seq.Process(dst)
	if b.effects != nil {
		for i := 0; i+1 < len(dst); i += 2 {
			dst[i], dst[i+1] = b.effects.Process(dst[i], dst[i+1])
		}
	}
	if b.masterEQ != nil {
		b.masterEQ.ProcessBlock(dst)
	}
	if b.sampleTap != nil {
		b.sampleTap(dst)
	}
}

func (b *masterBus) Finished() bool {
	return b.finished.Load()
}

// Player is one live transport. All methods are safe for concurrent use.
type Player struct {
	mu         sync.Mutex
	cfg        playerConfig
	sampleRate int
	volume     float64
	masterEQ   *intfx.EQ5Band

	song   *song.Song
	tracks map[song.TrackID]live.Track
	engine *sampler.Engine
	queue  *live.Queue
	seq    *intseq.Sequencer
	output intaudio.Output
	done   *stopSignal
	quit   chan struct{}

	eventCh atomic.Pointer[chan Event]
}

// stopSignal closes once, from the audio thread or from Stop, whichever
// gets there first. It takes no player lock.
type stopSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

// fire runs before and closes the channel on the first call only.
func (s *stopSignal) fire(before func()) {
	s.once.Do(func() {
		before()
		close(s.ch)
	})
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Player{
		cfg:        cfg,
		sampleRate: sampleRate,
		volume:     1,
		masterEQ:   intfx.NewEQ5Band(sampleRate),
		song:       song.New(),
		tracks:     map[song.TrackID]live.Track{},
	}, nil
}

// Start replaces whatever is playing with s. A nil s plays the song as
// edited so far, including edits made before Start. The song is copied;
// later changes go through PushUpdate.
func (p *Player) Start(s *song.Song) error {
	if s == nil {
		s = p.Song()
	}
	next := s.Clone()
	next.Normalize()

	fx, err := intfx.ParseChain(next.Effects, p.sampleRate)
	if err != nil {
		return err
	}
	tracks := make(map[song.TrackID]live.Track, len(next.Tracks))
	for _, t := range next.Tracks {
		lt, err := p.buildTrack(t, next)
		if err != nil {
			return err
		}
		tracks[t.ID] = lt
	}

	_ = p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	engine := sampler.New(p.sampleRate, p.cfg.maxVoices)
	engine.SetMasterGain(p.volume)
	queue := live.NewQueue(p.cfg.queueSize)
	done := newStopSignal()
	quit := make(chan struct{})
	faults := make(chan intseq.Fault, 32)

	bus := &masterBus{effects: fx, masterEQ: p.masterEQ, sampleTap: p.cfg.sampleTap}
	p.masterEQ.Reset()
	bus.seq = intseq.NewWithOptions(engine, queue, snapshotOf(next, tracks), p.sampleRate, intseq.Options{
		Seed: p.cfg.seed,
		OnEvent: func(ev intseq.Event) {
			switch ev.Kind {
			case intseq.EventStopped:
				bus.finished.Store(true)
				done.fire(func() { p.sendEvent(Event{Kind: EventStopped}) })
			case intseq.EventLoopCompleted:
				p.sendEvent(Event{Kind: EventLoopCompleted, Track: ev.Track, Loop: ev.Loop})
			}
		},
		OnFault: func(f intseq.Fault) {
			select {
			case faults <- f:
			default:
			}
		},
	})

	out, err := p.cfg.output(p.sampleRate, bus)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	p.song = next
	p.tracks = tracks
	p.engine = engine
	p.queue = queue
	p.seq = bus.seq
	p.output = out
	p.done = done
	p.quit = quit
	go p.logFaults(faults, quit)
	out.Play()
	return nil
}

// logFaults moves audio-thread faults onto the logger and the Watch channel.
func (p *Player) logFaults(faults <-chan intseq.Fault, quit <-chan struct{}) {
	for {
		select {
		case f := <-faults:
			p.cfg.logger.Printf("groovebox: %v", f)
			p.sendEvent(Event{Kind: EventFault, Track: f.Track, Err: f})
		case <-quit:
			return
		}
	}
}

func (p *Player) buildTrack(t *song.Track, s *song.Song) (live.Track, error) {
	tl, err := p.compileTrack(t, s.BPM)
	if err != nil {
		return live.Track{}, err
	}
	return live.Track{
		ID:         t.ID,
		Name:       t.Name,
		Timeline:   tl,
		Sample:     p.loadSample(t),
		SampleName: t.Sample,
		Mix:        mixOf(t),
		Delay:      t.Delay,
	}, nil
}

func (p *Player) compileTrack(t *song.Track, bpm int) (*timeline.Timeline, error) {
	cfg, err := t.Config(bpm)
	if err != nil {
		return nil, err
	}
	tl, err := timeline.CompileSource(t.Pattern(), cfg)
	if err != nil {
		return nil, fmt.Errorf("track %q: %w", t.Name, err)
	}
	return tl, nil
}

// loadSample never fails: an unresolved sample is nil and the transport
// reports it when the track first plays.
func (p *Player) loadSample(t *song.Track) *samplebank.Sample {
	if t.Sample == "" || p.cfg.bank == nil {
		return nil
	}
	smp, err := p.cfg.bank.Load(t.Sample)
	if err != nil {
		p.cfg.logger.Printf("groovebox: track %q: %v", t.Name, err)
		return nil
	}
	return smp
}

func mixOf(t *song.Track) live.Mix {
	return live.Mix{GainDB: t.GainDB, Mute: t.Mute, Solo: t.Solo}
}

func snapshotOf(s *song.Song, tracks map[song.TrackID]live.Track) *live.Snapshot {
	snap := &live.Snapshot{BPM: s.BPM, Swing: s.Swing}
	for _, t := range s.Tracks {
		snap.Tracks = append(snap.Tracks, tracks[t.ID])
	}
	return snap
}

// PushUpdate applies fn to a copy of the current song and sends the
// difference to the transport. A pattern that fails to parse rejects the
// whole update and the old timeline keeps playing. Before Start it only
// edits the song.
func (p *Player) PushUpdate(fn Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.song.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Normalize()

	msgs, tracks, err := p.diff(p.song, next)
	if err != nil {
		return err
	}
	p.song = next
	p.tracks = tracks
	if p.queue == nil {
		return nil
	}
	resync := false
	for _, m := range msgs {
		dropped, err := p.queue.Push(m)
		if err != nil {
			return err
		}
		resync = resync || dropped
	}
	if resync {
		_, err := p.queue.Push(live.Message{Kind: live.KindSnapshot, Snapshot: snapshotOf(next, tracks)})
		return err
	}
	return nil
}

// diff compiles what changed between old and next and returns the messages
// that move the transport from one to the other.
func (p *Player) diff(old, next *song.Song) ([]live.Message, map[song.TrackID]live.Track, error) {
	var msgs []live.Message
	tracks := make(map[song.TrackID]live.Track, len(next.Tracks))
	renamed := false

	if old.BPM != next.BPM {
		msgs = append(msgs, live.Message{Kind: live.KindTempo, BPM: next.BPM})
	}
	if old.Swing != next.Swing {
		msgs = append(msgs, live.Message{Kind: live.KindSwing, Swing: next.Swing})
	}
	for _, t := range old.Tracks {
		if next.Track(t.ID) == nil {
			msgs = append(msgs, live.Message{Kind: live.KindRemoveTrack, Track: t.ID})
		}
	}
	for _, t := range next.Tracks {
		prev := old.Track(t.ID)
		cur, ok := p.tracks[t.ID]
		if prev == nil || !ok {
			lt, err := p.buildTrack(t, next)
			if err != nil {
				return nil, nil, err
			}
			tracks[t.ID] = lt
			add := lt
			msgs = append(msgs, live.Message{Kind: live.KindAddTrack, Track: t.ID, Add: &add})
			continue
		}
		if cur.Name != t.Name {
			cur.Name = t.Name
			renamed = true
		}
		if prev.Pattern() != t.Pattern() || prev.Division != t.Division ||
			prev.Root != t.Root || prev.Playback != t.Playback {
			tl, err := p.compileTrack(t, next.BPM)
			if err != nil {
				return nil, nil, err
			}
			cur.Timeline = tl
			msgs = append(msgs, live.Message{Kind: live.KindTimeline, Track: t.ID, Timeline: tl})
		}
		if prev.Sample != t.Sample {
			cur.Sample = p.loadSample(t)
			cur.SampleName = t.Sample
			msgs = append(msgs, live.Message{Kind: live.KindSample, Track: t.ID, Sample: cur.Sample, Name: t.Sample})
		}
		if mix := mixOf(t); mix != cur.Mix {
			cur.Mix = mix
			msgs = append(msgs, live.Message{Kind: live.KindMix, Track: t.ID, Mix: mix})
		}
		if prev.Delay != t.Delay {
			cur.Delay = t.Delay
			msgs = append(msgs, live.Message{Kind: live.KindDelay, Track: t.ID, Delay: t.Delay})
		}
		tracks[t.ID] = cur
	}
	if renamed {
		// Names only travel in snapshots.
		msgs = append(msgs, live.Message{Kind: live.KindSnapshot, Snapshot: snapshotOf(next, tracks)})
	}
	return msgs, tracks, nil
}

func (p *Player) editTrack(ref string, fn func(t *song.Track) error) error {
	return p.PushUpdate(func(s *song.Song) error {
		id, err := s.Resolve(ref)
		if err != nil {
			return err
		}
		return fn(s.Track(id))
	})
}

// SetPattern replaces the active variation's source of the referenced track.
// A track reference is a name or a 1-based position.
func (p *Player) SetPattern(ref, src string) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.SetPattern(src)
		return nil
	})
}

func (p *Player) SetVariation(ref, name string) error {
	return p.editTrack(ref, func(t *song.Track) error {
		return t.SelectVariation(name)
	})
}

func (p *Player) SetTempo(bpm int) error {
	return p.PushUpdate(func(s *song.Song) error {
		s.BPM = song.ClampBPM(bpm)
		return nil
	})
}

func (p *Player) SetSwing(swing int) error {
	return p.PushUpdate(func(s *song.Song) error {
		s.Swing = song.ClampSwing(swing)
		return nil
	})
}

func (p *Player) SetDivision(ref string, div int) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Division = song.ClampDivision(div)
		return nil
	})
}

func (p *Player) SetRoot(ref, root string) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Root = root
		_, err := t.RootMIDI()
		return err
	})
}

func (p *Player) SetMute(ref string, mute bool) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Mute = mute
		return nil
	})
}

func (p *Player) SetSolo(ref string, solo bool) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Solo = solo
		return nil
	})
}

func (p *Player) SetGain(ref string, gainDB float64) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.GainDB = gainDB
		return nil
	})
}

func (p *Player) SetDelay(ref string, d song.Delay) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Delay = d
		return nil
	})
}

func (p *Player) SetPlayback(ref string, mode timeline.Mode) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Playback = mode
		return nil
	})
}

func (p *Player) SetSample(ref, name string) error {
	return p.editTrack(ref, func(t *song.Track) error {
		t.Sample = name
		return nil
	})
}

// AddTrack appends t and returns the ID it was given.
func (p *Player) AddTrack(t *song.Track) (song.TrackID, error) {
	var id song.TrackID
	err := p.PushUpdate(func(s *song.Song) error {
		added, err := s.AddTrack(t.Clone())
		if err != nil {
			return err
		}
		id = added.ID
		return nil
	})
	return id, err
}

func (p *Player) RemoveTrack(ref string) error {
	return p.PushUpdate(func(s *song.Song) error {
		id, err := s.Resolve(ref)
		if err != nil {
			return err
		}
		return s.RemoveTrack(id)
	})
}

// Song returns a copy of the song as last edited.
func (p *Player) Song() *song.Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.song.Clone()
}

func (p *Player) Snapshot() LiveState {
	p.mu.Lock()
	seq := p.seq
	st := LiveState{BPM: p.song.BPM, Swing: p.song.Swing}
	p.mu.Unlock()
	if seq == nil {
		return st
	}
	st.Running = seq.Running()
	st.Tracks = seq.LiveState()
	return st
}

// sendEvent runs on the audio thread too, so it only touches atomics.
func (p *Player) sendEvent(ev Event) {
	ch := p.eventCh.Load()
	if ch == nil {
		return
	}
	select {
	case *ch <- ev:
	default:
		// Channel full; drop event
	}
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output != nil {
		p.output.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output != nil {
		p.output.Play()
	}
}

// stopGrace bounds how long Stop waits for the transport to fade out.
const stopGrace = 100 * time.Millisecond

// Stop halts the transport, letting sounding voices fade, and closes the
// output. Stopping a stopped player is a no-op.
func (p *Player) Stop() error {
	return p.stop()
}

func (p *Player) stop() error {
	p.mu.Lock()
	if p.output == nil {
		p.mu.Unlock()
		return nil
	}
	p.queue.Stop()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done.ch:
	case <-time.After(stopGrace):
	}

	p.mu.Lock()
	out := p.output
	if out == nil {
		p.mu.Unlock()
		return nil
	}
	p.output = nil
	p.seq = nil
	p.queue = nil
	p.engine = nil
	close(p.quit)
	p.quit = nil
	p.done = nil
	p.mu.Unlock()

	err := out.Close()
	done.fire(func() { p.sendEvent(Event{Kind: EventStopped}) })
	return err
}

// Wait blocks until the transport stops. Wait returns immediately if no
// playback is active.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done.ch
	}
}

// Watch returns a channel that receives transport events:
//   - EventLoopCompleted: a track wrapped its loop (Track, Loop set)
//   - EventStopped: the transport stopped
//   - EventFault: a trigger was skipped (Track, Err set)
//
// The channel is buffered (cap 8) and events are dropped when it is full.
// Only the most recent Watch() channel receives events.
func (p *Player) Watch() <-chan Event {
	ch := make(chan Event, 8)
	p.eventCh.Store(&ch)
	return ch
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	if p.engine != nil {
		p.engine.SetMasterGain(volume)
	}
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band centres: 200 Hz shelf, 500 Hz, 1.4 kHz, 4.5 kHz, 8 kHz shelf.
// This takes effect immediately on the audio thread (lock-free).
func (p *Player) SetEQBand(band int, gain float32) {
	p.masterEQ.SetGain(band, gain)
}

func (p *Player) EQBand(band int) float32 {
	return p.masterEQ.Gain(band)
}

// PlaybackPosition returns the current output position of the audio driver,
// in frames. Returns 0 if not playing.
func (p *Player) PlaybackPosition() int64 {
	p.mu.Lock()
	out := p.output
	p.mu.Unlock()
	if out == nil {
		return 0
	}
	return int64(out.Position().Seconds() * float64(p.sampleRate))
}
