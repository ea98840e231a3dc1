package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/groovebox-go"
)

func TestFollowEndsWithoutStopEvent(t *testing.T) {
	events := make(chan groovebox.Event)
	stopped := make(chan struct{})
	close(stopped)
	var out bytes.Buffer
	returned := make(chan struct{})
	go func() {
		follow(&out, events, stopped, 1, 0, func() {})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("follow kept waiting for an EventStopped that never came")
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestFollowStopsAfterLoops(t *testing.T) {
	events := make(chan groovebox.Event, 4)
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopped) }) }
	events <- groovebox.Event{Kind: groovebox.EventLoopCompleted, Track: 2, Loop: 5}
	events <- groovebox.Event{Kind: groovebox.EventLoopCompleted, Track: 1, Loop: 1}
	events <- groovebox.Event{Kind: groovebox.EventLoopCompleted, Track: 1, Loop: 2}

	var out bytes.Buffer
	returned := make(chan struct{})
	go func() {
		follow(&out, events, stopped, 1, 2, stop)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("follow did not stop after two loops")
	}
	got := out.String()
	if !strings.Contains(got, "loop 2") || strings.Contains(got, "loop 5") {
		t.Fatalf("output = %q", got)
	}
}
