package effects

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse builds an effect from a one-line description: a type name followed
// by comma-separated parameters, e.g. "reverb 0.8,0.5,0.25". Missing
// parameters take defaults.
//
//	delay  ms,feedback,mix
//	reverb room,damp,wet
//	chorus delay_ms,depth_ms,rate_hz,mix
//	dist   drive,mix,level
//	eq     low_db,mid_db,high_db,low_hz,high_hz
//	comp   threshold_db,ratio,attack_ms,release_ms,makeup_db
func Parse(desc string, sampleRate int) (Effector, error) {
	desc = strings.TrimSpace(desc)
	name, rest, _ := strings.Cut(desc, " ")
	name = strings.ToLower(name)
	var params []float64
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, field := range strings.Split(rest, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("effect %q: bad parameter %q", name, field)
			}
			params = append(params, v)
		}
	}
	p := func(i int, def float64) float64 {
		if i < len(params) {
			return params[i]
		}
		return def
	}
	switch name {
	case "delay":
		return NewDelay(sampleRate, p(0, 250)/1000, p(1, 0.4), p(2, 0.3)), nil
	case "reverb":
		return NewReverb(p(0, 0.5), p(1, 0.5), p(2, 0.25)), nil
	case "chorus":
		return NewChorus(sampleRate, p(0, 15), p(1, 3), p(2, 1.5), p(3, 0.4))
	case "dist", "distortion":
		return NewDistortion(sampleRate, p(0, 4), p(1, 1), p(2, 0.5))
	case "eq":
		return NewEQ3Band(sampleRate, p(0, 0), p(1, 0), p(2, 0), p(3, 300), p(4, 3000)), nil
	case "comp", "compressor":
		return NewCompressor(sampleRate, p(0, -20), p(1, 4), p(2, 5), p(3, 100), p(4, 0))
	case "":
		return nil, fmt.Errorf("empty effect description")
	}
	return nil, fmt.Errorf("unknown effect %q (expected delay|reverb|chorus|dist|eq|comp)", name)
}

// ParseChain builds a chain from descriptions in order. An empty list gives
// an empty chain.
func ParseChain(descs []string, sampleRate int) (*Chain, error) {
	chain := NewChain()
	for i, d := range descs {
		fx, err := Parse(d, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("master effect %d: %w", i+1, err)
		}
		chain.Add(fx)
	}
	return chain, nil
}
