// Package live carries song edits from the control side to the transport.
package live

import (
	"errors"
	"sync/atomic"

	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

var ErrStopped = errors.New("transport stopped")

const DefaultQueueSize = 64

type Kind int

const (
	KindSnapshot Kind = iota
	KindTempo
	KindSwing
	KindTimeline
	KindMix
	KindDelay
	KindSample
	KindAddTrack
	KindRemoveTrack
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindTempo:
		return "tempo"
	case KindSwing:
		return "swing"
	case KindTimeline:
		return "timeline"
	case KindMix:
		return "mix"
	case KindDelay:
		return "delay"
	case KindSample:
		return "sample"
	case KindAddTrack:
		return "add-track"
	case KindRemoveTrack:
		return "remove-track"
	default:
		return "unknown"
	}
}

// Mix is the part of a track that can change without touching timing.
type Mix struct {
	GainDB float64
	Mute   bool
	Solo   bool
}

// Track is everything the transport needs to play one track. It is built on
// the control side: the pattern is compiled and the sample is loaded before
// it is pushed.
type Track struct {
	ID         song.TrackID
	Name       string
	Timeline   *timeline.Timeline
	Sample     *samplebank.Sample
	SampleName string
	Mix        Mix
	Delay      song.Delay
}

type Snapshot struct {
	BPM    int
	Swing  int
	Tracks []Track
}

// Message is one edit. Only the fields for its Kind are set.
type Message struct {
	Kind     Kind
	Track    song.TrackID
	Snapshot *Snapshot
	BPM      int
	Swing    int
	Timeline *timeline.Timeline
	Mix      Mix
	Delay    song.Delay
	Sample   *samplebank.Sample
	Name     string
	Add      *Track
}

// Queue is a bounded single-producer single-consumer channel. Neither side
// ever blocks: a full queue drops its oldest message.
type Queue struct {
	ch      chan Message
	stopped atomic.Bool
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Push enqueues m. dropped is true when an older message had to be discarded
// to make room; the producer should follow up with a snapshot.
func (q *Queue) Push(m Message) (dropped bool, err error) {
	if q.stopped.Load() {
		return false, ErrStopped
	}
	for {
		select {
		case q.ch <- m:
			return dropped, nil
		default:
		}
		select {
		case <-q.ch:
			dropped = true
			q.dropped.Add(1)
		default:
		}
	}
}

// Drain hands every queued message to fn in order and returns the count.
func (q *Queue) Drain(fn func(Message)) int {
	n := 0
	for {
		select {
		case m := <-q.ch:
			fn(m)
			n++
		default:
			return n
		}
	}
}

// Stop is sticky and is never lost to an overflow.
func (q *Queue) Stop() {
	q.stopped.Store(true)
}

func (q *Queue) Stopped() bool {
	return q.stopped.Load()
}

// Dropped counts messages discarded on overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Len() int {
	return len(q.ch)
}
