// Package samplebank resolves track sample references to decoded audio.
package samplebank

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	wav "github.com/youpy/go-wav"
)

var ErrNotFound = errors.New("sample not found")

// Sample is decoded audio, immutable once loaded. Mono sources share one
// slice between L and R.
type Sample struct {
	Name string
	Rate int
	L    []float32
	R    []float32
}

func (s *Sample) Frames() int {
	return len(s.L)
}

func (s *Sample) Stereo() bool {
	return len(s.R) > 0 && &s.R[0] != &s.L[0]
}

// Bank is the sample lookup used by the player. Implementations must be safe
// for concurrent use; Load is never called from the audio thread.
type Bank interface {
	Load(name string) (*Sample, error)
}

// wavSource is the reader shape go-wav needs.
type wavSource interface {
	io.Reader
	io.ReaderAt
}

// Decode reads a PCM WAV stream.
func Decode(name string, src wavSource) (*Sample, error) {
	r := wav.NewReader(src)
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, fmt.Errorf("%s: unsupported channel count %d", name, format.NumChannels)
	}
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("%s: zero sample rate", name)
	}
	stereo := format.NumChannels == 2
	s := &Sample{Name: name, Rate: int(format.SampleRate)}
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, sample := range samples {
			s.L = append(s.L, float32(r.FloatValue(sample, 0)))
			if stereo {
				s.R = append(s.R, float32(r.FloatValue(sample, 1)))
			}
		}
	}
	if !stereo {
		s.R = s.L
	}
	return s, nil
}

// Dir loads WAV files below a root directory and caches them by name. A
// reference without an extension gets ".wav" appended.
type Dir struct {
	root string

	mu    sync.Mutex
	cache map[string]*Sample
}

func NewDir(root string) *Dir {
	return &Dir{root: root, cache: map[string]*Sample{}}
}

func (d *Dir) Load(name string) (*Sample, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	d.mu.Lock()
	if s, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return s, nil
	}
	d.mu.Unlock()

	path := key
	if filepath.Ext(path) == "" {
		path += ".wav"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.root, path)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	s, err := Decode(key, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[key] = s
	d.mu.Unlock()
	return s, nil
}

// Names lists the WAV files directly under the root, without extension.
func (d *Dir) Names() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names, nil
}

// Map is an in-memory bank.
type Map map[string]*Sample

func (m Map) Load(name string) (*Sample, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
