package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/groovebox-go"
	"github.com/cbegin/groovebox-go/internal/song"
	"github.com/cbegin/groovebox-go/internal/songfile"
	"github.com/cbegin/groovebox-go/internal/timeline"
)

const helpText = `tempo BPM | swing 0-100 | volume V | eq BAND GAIN
pattern REF SRC | var REF NAME | div REF N | root REF NOTE | mode REF gate|mono|oneshot
mute REF | unmute REF | solo REF | unsolo REF | gain REF DB | sample REF NAME
delay REF on|off [TIME [FEEDBACK [MIX]]]
add NAME SAMPLE [SRC] | remove REF | status | save PATH | quit
REF is a track name or a 1-based position.`

var (
	nameStyle = lipgloss.NewStyle().Width(10)
	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
)

var errUsage = errors.New("usage")

// runCommand applies one console line. quit is true when the console should
// stop reading.
func runCommand(pl *groovebox.Player, line string) (out string, quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s needs %d argument(s); try help", errUsage, cmd, n)
		}
		return nil
	}

	switch cmd {
	case "help", "?":
		return helpText, false, nil
	case "quit", "exit", "q":
		return "", true, nil
	case "status":
		return status(pl), false, nil
	case "save":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "", false, songfile.Save(arg(0), pl.Song())
	case "tempo", "bpm":
		if err := need(1); err != nil {
			return "", false, err
		}
		n, err := strconv.Atoi(arg(0))
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetTempo(n)
	case "swing":
		if err := need(1); err != nil {
			return "", false, err
		}
		n, err := strconv.Atoi(arg(0))
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetSwing(n)
	case "volume":
		if err := need(1); err != nil {
			return "", false, err
		}
		v, err := strconv.ParseFloat(arg(0), 64)
		if err != nil {
			return "", false, err
		}
		pl.SetMasterVolume(v)
		return "", false, nil
	case "eq":
		if err := need(2); err != nil {
			return "", false, err
		}
		band, err := strconv.Atoi(arg(0))
		if err != nil {
			return "", false, err
		}
		gain, err := strconv.ParseFloat(arg(1), 32)
		if err != nil {
			return "", false, err
		}
		pl.SetEQBand(band, float32(gain))
		return "", false, nil
	case "pattern", "p":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "", false, pl.SetPattern(arg(0), strings.Join(args[1:], " "))
	case "var":
		if err := need(2); err != nil {
			return "", false, err
		}
		return "", false, pl.SetVariation(arg(0), arg(1))
	case "div":
		if err := need(2); err != nil {
			return "", false, err
		}
		n, err := strconv.Atoi(arg(1))
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetDivision(arg(0), n)
	case "root":
		if err := need(2); err != nil {
			return "", false, err
		}
		return "", false, pl.SetRoot(arg(0), arg(1))
	case "mode":
		if err := need(2); err != nil {
			return "", false, err
		}
		m, err := timeline.ParseMode(arg(1))
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetPlayback(arg(0), m)
	case "mute", "unmute":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "", false, pl.SetMute(arg(0), cmd == "mute")
	case "solo", "unsolo":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "", false, pl.SetSolo(arg(0), cmd == "solo")
	case "gain":
		if err := need(2); err != nil {
			return "", false, err
		}
		db, err := strconv.ParseFloat(arg(1), 64)
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetGain(arg(0), db)
	case "sample":
		if err := need(2); err != nil {
			return "", false, err
		}
		return "", false, pl.SetSample(arg(0), arg(1))
	case "delay":
		if err := need(2); err != nil {
			return "", false, err
		}
		d, err := parseDelay(pl.Song(), args)
		if err != nil {
			return "", false, err
		}
		return "", false, pl.SetDelay(arg(0), d)
	case "add":
		if err := need(2); err != nil {
			return "", false, err
		}
		t := song.NewTrack(arg(0))
		t.Sample = arg(1)
		t.SetPattern(strings.Join(args[2:], " "))
		id, err := pl.AddTrack(t)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("added %s as track %d", t.Name, id), false, nil
	case "remove", "rm":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "", false, pl.RemoveTrack(arg(0))
	}
	return "", false, fmt.Errorf("unknown command %q; try help", cmd)
}

// parseDelay starts from the track's current delay so omitted values keep
// their setting.
func parseDelay(s *song.Song, args []string) (song.Delay, error) {
	id, err := s.Resolve(args[0])
	if err != nil {
		return song.Delay{}, err
	}
	d := s.Track(id).Delay
	switch strings.ToLower(args[1]) {
	case "on":
		d.On = true
	case "off":
		d.On = false
	default:
		return d, fmt.Errorf("%w: delay REF on|off [TIME [FEEDBACK [MIX]]]", errUsage)
	}
	if len(args) > 2 {
		d.Time = args[2]
	}
	for i, dst := range []*float64{&d.Feedback, &d.Mix} {
		if len(args) > 3+i {
			v, err := strconv.ParseFloat(args[3+i], 64)
			if err != nil {
				return d, err
			}
			*dst = v
		}
	}
	return d, nil
}

func status(pl *groovebox.Player) string {
	st := pl.Snapshot()
	var b strings.Builder
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "%s  %d bpm  swing %d", state, st.BPM, st.Swing)
	s := pl.Song()
	for _, ts := range st.Tracks {
		t := s.Track(ts.ID)
		flags := ""
		if t != nil {
			if t.Mute {
				flags += " M"
			}
			if t.Solo {
				flags += " S"
			}
		}
		fmt.Fprintf(&b, "\n%s step %s loop %d%s", nameStyle.Render(ts.Name), stepStyle.Render(strconv.Itoa(ts.Step+1)), ts.Loop, flags)
	}
	return b.String()
}
