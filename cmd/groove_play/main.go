package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/groovebox-go"
	"github.com/cbegin/groovebox-go/internal/samplebank"
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/songfile"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fff"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	loopStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	faultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f55"))
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		songPath   = flag.String("song", "", "path to a YAML song file")
		pattern    = flag.String("pattern", "", "inline pattern for a one-track song")
		sample     = flag.String("sample", "kick", "sample for -pattern")
		samples    = flag.String("samples", "samples", "sample directory")
		bpm        = flag.Int("bpm", 0, "override the song tempo")
		seed       = flag.Uint64("seed", 1, "probability seed")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		loops      = flag.Int("loops", 0, "stop after N loops of the first track (0 = run until quit)")
		render     = flag.String("render", "", "render to this WAV file instead of playing")
		seconds    = flag.Float64("seconds", 8, "length of -render")
	)
	flag.Parse()

	s, err := resolveSong(*songPath, *pattern, *sample)
	if err != nil {
		log.Fatal(err)
	}
	s.Normalize()
	if *bpm > 0 {
		s.BPM = song.ClampBPM(*bpm)
	}
	bank := samplebank.NewDir(*samples)

	if *render != "" {
		if err := renderFile(*render, s, bank, *sampleRate, *seconds, *seed); err != nil {
			log.Fatal(err)
		}
		return
	}

	pl, err := groovebox.NewPlayer(*sampleRate, groovebox.WithSampleBank(bank), groovebox.WithSeed(*seed))
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)
	ch := pl.Watch()
	if err := pl.Start(s); err != nil {
		log.Fatal(err)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("groovebox  %d bpm  %d tracks", s.BPM, len(s.Tracks))))
	fmt.Println(dimStyle.Render("type help for commands"))

	go readCommands(pl, os.Stdin)

	first := song.TrackID(0)
	if len(s.Tracks) > 0 {
		first = s.Tracks[0].ID
	}
	stopped := make(chan struct{})
	go func() {
		pl.Wait()
		close(stopped)
	}()
	follow(os.Stdout, ch, stopped, first, *loops, func() { _ = pl.Stop() })
}

// follow prints transport events until stopped closes. EventStopped can be
// dropped when the Watch channel is full, so stopped is the authority on
// when playback ends.
func follow(w io.Writer, events <-chan groovebox.Event, stopped <-chan struct{}, first song.TrackID, loops int, stop func()) {
	for {
		select {
		case <-stopped:
			fmt.Fprintln(w, dimStyle.Render("stopped"))
			return
		case event := <-events:
			switch event.Kind {
			case groovebox.EventLoopCompleted:
				if event.Track != first {
					continue
				}
				fmt.Fprintln(w, loopStyle.Render(fmt.Sprintf("loop %d", event.Loop)))
				if loops > 0 && event.Loop >= loops {
					go stop()
				}
			case groovebox.EventFault:
				fmt.Fprintln(w, faultStyle.Render(event.Err.Error()))
			}
		}
	}
}

func readCommands(pl *groovebox.Player, f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out, quit, err := runCommand(pl, sc.Text())
		switch {
		case err != nil:
			fmt.Println(faultStyle.Render(err.Error()))
		case out != "":
			fmt.Println(out)
		}
		if quit {
			break
		}
	}
	_ = pl.Stop()
}

func resolveSong(path, inline, sample string) (*song.Song, error) {
	if strings.TrimSpace(path) != "" {
		return songfile.Load(path)
	}
	s := song.New()
	if strings.TrimSpace(inline) == "" {
		inline = "x...x...x...x..."
	}
	t := song.NewTrack(sample)
	t.Sample = sample
	t.SetPattern(inline)
	if _, err := groovebox.Compile(inline, groovebox.TrackConfig{}); err != nil {
		return nil, err
	}
	if _, err := s.AddTrack(t); err != nil {
		return nil, err
	}
	return s, nil
}

func renderFile(path string, s *song.Song, bank samplebank.Bank, sampleRate int, seconds float64, seed uint64) error {
	out, err := groovebox.RenderSamples(s, bank, sampleRate, seconds, seed)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := groovebox.WriteWAV(f, out, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
