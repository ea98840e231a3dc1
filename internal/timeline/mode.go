package timeline

import (
	"fmt"
	"strings"
)

// Mode is a track's playback policy.
type Mode int

const (
	ModeGate Mode = iota
	ModeMono
	ModeOneShot
)

func (m Mode) String() string {
	switch m {
	case ModeMono:
		return "mono"
	case ModeOneShot:
		return "oneshot"
	default:
		return "gate"
	}
}

// ParseMode accepts gate, mono and oneshot, plus the older spellings clip,
// replace and one_shot.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gate", "clip":
		return ModeGate, nil
	case "mono", "replace":
		return ModeMono, nil
	case "oneshot", "one_shot", "one-shot":
		return ModeOneShot, nil
	default:
		return ModeGate, fmt.Errorf("unknown playback mode %q (expected gate|mono|oneshot)", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
