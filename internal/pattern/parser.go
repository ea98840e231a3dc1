package pattern

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxSteps bounds the number of steps a pattern may expand to.
const MaxSteps = 1 << 16

// MaxRatchet is the largest "{N}" count. It keeps every sub-step at least
// a few hundred ticks long.
const MaxRatchet = 64

const maxNumber = 1 << 20

var noteClasses = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

type parser struct {
	src string
	pos int
}

// Parse turns pattern source into its step sequence. Groups are expanded
// inline, comments and bar lines are dropped, and a tie that follows no
// sounding hit becomes a rest.
func Parse(src string) ([]Step, error) {
	p := &parser{src: src}
	steps, err := p.parseSeq(-1)
	if err != nil {
		return nil, err
	}
	return normalizeTies(steps), nil
}

// parseSeq reads steps until the end of input, or until the ')' that closes
// the group opened at open when open >= 0.
func (p *parser) parseSeq(open int) ([]Step, error) {
	var steps []Step
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if open >= 0 {
				return nil, errorAt(ErrUnterminated, open, p.pos-open, "unterminated group")
			}
			return steps, nil
		}
		c := p.src[p.pos]
		switch {
		case c == ')':
			if open < 0 {
				return nil, errorAt(ErrUnexpectedChar, p.pos, 1, "unexpected ')'")
			}
			return steps, nil
		case c == '|':
			p.pos++
		case c == '.':
			steps = append(steps, Step{Kind: StepRest, Offset: p.pos})
			p.pos++
		case c == '_':
			steps = append(steps, Step{Kind: StepTie, Offset: p.pos})
			p.pos++
		case c == '(':
			start := p.pos
			group, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			if len(steps)+len(group) > MaxSteps {
				return nil, errorAt(ErrInvalidRepeat, start, p.pos-start, "pattern expands beyond %d steps", MaxSteps)
			}
			steps = append(steps, group...)
		case isHitStart(c):
			step, err := p.parseHit()
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			return nil, errorAt(ErrUnexpectedChar, p.pos, size, "unexpected %q", r)
		}
		if len(steps) > MaxSteps {
			return nil, errorAt(ErrInvalidRepeat, p.pos, 1, "pattern expands beyond %d steps", MaxSteps)
		}
	}
}

// parseGroup handles "( ... )" with an optional "*N" after the closing
// paren; whitespace and comments may sit between them. Without a repeat, a
// group of hits becomes one chord step and a group containing rests or ties
// stays inline.
func (p *parser) parseGroup() ([]Step, error) {
	open := p.pos
	p.pos++
	inner, err := p.parseSeq(open)
	if err != nil {
		return nil, err
	}
	p.pos++ // ')'
	mark := p.pos
	p.skipSpace()
	if p.at('*') && isDigitAt(p.src, p.pos+1) {
		p.pos++
		start := p.pos
		n, err := p.unsigned()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errorAt(ErrInvalidRepeat, start, p.pos-start, "repeat count must be at least 1")
		}
		if len(inner)*n > MaxSteps {
			return nil, errorAt(ErrInvalidRepeat, start, p.pos-start, "pattern expands beyond %d steps", MaxSteps)
		}
		out := make([]Step, 0, len(inner)*n)
		for i := 0; i < n; i++ {
			for _, s := range inner {
				out = append(out, cloneStep(s))
			}
		}
		return out, nil
	}
	p.pos = mark
	if len(inner) == 0 {
		return nil, nil
	}
	chord := Step{Kind: StepHit, Offset: open}
	for _, s := range inner {
		if s.Kind != StepHit {
			return inner, nil
		}
		chord.Hits = append(chord.Hits, s.Hits...)
	}
	return []Step{chord}, nil
}

func (p *parser) parseHit() (Step, error) {
	start := p.pos
	h := newHit(start)
	switch c := p.src[p.pos]; c {
	case 'X':
		h.Accent = true
		p.pos++
	case 'x', '1', '*':
		p.pos++
	default:
		h.Accent = c >= 'A' && c <= 'G'
		h.Note = p.parseNote()
	}
	h.Symbol = p.src[start:p.pos]

	var chord []int
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isTerminator(c) {
			break
		}
		modStart := p.pos
		kind := ModUnknown
		switch c {
		case '+', '-':
			if c == '+' && p.peek(1) == '(' {
				offsets, err := p.parseChordOffsets()
				if err != nil {
					return Step{}, err
				}
				chord = offsets
				kind = ModChord
				break
			}
			p.pos++
			n, err := p.unsigned()
			if err != nil {
				return Step{}, err
			}
			if c == '-' {
				n = -n
			}
			h.Pitch += n
			kind = ModPitch
		case 'v':
			p.pos++
			numStart := p.pos
			n, err := p.unsigned()
			if err != nil {
				return Step{}, err
			}
			if n > 127 {
				return Step{}, errorAt(ErrInvalidNumber, numStart, p.pos-numStart, "velocity %d out of range 0-127", n)
			}
			h.Velocity = n
			kind = ModVelocity
		case '?':
			p.pos++
			v, err := p.value(false, false)
			if err != nil {
				return Step{}, err
			}
			h.Probability = v
			kind = ModProbability
		case '{':
			p.pos++
			numStart := p.pos
			n, err := p.unsigned()
			if err != nil {
				return Step{}, err
			}
			if n > MaxRatchet {
				return Step{}, errorAt(ErrInvalidNumber, numStart, p.pos-numStart, "ratchet count %d exceeds %d", n, MaxRatchet)
			}
			if !p.at('}') {
				return Step{}, errorAt(ErrUnterminated, modStart, p.pos-modStart, "unterminated ratchet")
			}
			p.pos++
			h.Ratchet = max(n, 1)
			kind = ModRatchet
		case '@':
			p.pos++
			cyc, ok, err := p.cycle()
			if err != nil {
				return Step{}, err
			}
			if ok {
				h.Cycle = cyc
				kind = ModCycle
				break
			}
			v, err := p.value(true, true)
			if err != nil {
				return Step{}, err
			}
			h.Nudge = v
			kind = ModNudge
		case '=':
			p.pos++
			v, err := p.value(true, false)
			if err != nil {
				return Step{}, err
			}
			h.Gate = v
			kind = ModGate
		case '[':
			locks, err := p.parseLocks()
			if err != nil {
				return Step{}, err
			}
			h.Locks = append(h.Locks, locks...)
			kind = ModLocks
		case ']', '}':
			return Step{}, errorAt(ErrUnexpectedChar, p.pos, 1, "unexpected %q", rune(c))
		default:
			p.skipUnknown()
		}
		h.Mods = append(h.Mods, Modifier{Kind: kind, Offset: modStart, Raw: p.src[modStart:p.pos]})
	}

	step := Step{Kind: StepHit, Offset: start}
	if chord == nil {
		step.Hits = []Hit{h}
		return step, nil
	}
	for _, off := range chord {
		m := h.clone()
		m.Pitch = h.Pitch + off
		step.Hits = append(step.Hits, m)
	}
	return step, nil
}

// parseNote reads a note name: letter, optional accidental (s = sharp,
// b = flat) and an optional single octave digit.
func (p *parser) parseNote() Note {
	c := p.src[p.pos] | 0x20
	p.pos++
	n := Note{Class: noteClasses[c], Octave: 4, Valid: true}
	if p.at('s') {
		n.Class++
		p.pos++
	} else if p.at('b') {
		n.Class--
		p.pos++
	}
	if p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		n.Octave = int(p.src[p.pos] - '0')
		p.pos++
	}
	if n.Class < 0 {
		n.Class += 12
		n.Octave--
	} else if n.Class > 11 {
		n.Class -= 12
		n.Octave++
	}
	return n
}

func (p *parser) parseChordOffsets() ([]int, error) {
	open := p.pos + 1
	p.pos += 2
	offsets := []int{0}
	for first := true; ; first = false {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, errorAt(ErrUnterminated, open, p.pos-open, "unterminated chord")
		}
		if first && p.at(')') {
			return nil, errorAt(ErrInvalidChord, open, p.pos-open+1, "empty chord")
		}
		sign := 1
		if p.at('+') {
			p.pos++
		} else if p.at('-') {
			sign = -1
			p.pos++
		}
		n, err := p.unsigned()
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, sign*n)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, errorAt(ErrUnterminated, open, p.pos-open, "unterminated chord")
		}
		switch c := p.src[p.pos]; c {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return uniqueSorted(offsets), nil
		default:
			return nil, errorAt(ErrInvalidChord, p.pos, 1, "unexpected %q in chord", rune(c))
		}
	}
}

func (p *parser) parseLocks() ([]ParamLock, error) {
	open := p.pos
	p.pos++
	var locks []ParamLock
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, errorAt(ErrUnterminated, open, p.pos-open, "unterminated parameter lock")
		}
		if p.at(']') {
			p.pos++
			return locks, nil
		}
		keyStart := p.pos
		for p.pos < len(p.src) && !strings.ContainsRune("=,]\n", rune(p.src[p.pos])) {
			p.pos++
		}
		key := strings.TrimSpace(p.src[keyStart:p.pos])
		if key == "" {
			return nil, errorAt(ErrUnexpectedChar, keyStart, 1, "expected parameter name")
		}
		lock := ParamLock{Key: key, Offset: keyStart}
		if p.at('=') {
			p.pos++
			valStart := p.pos
			for p.pos < len(p.src) && !strings.ContainsRune(",]\n", rune(p.src[p.pos])) {
				p.pos++
			}
			lock.Value = strings.TrimSpace(p.src[valStart:p.pos])
			lock.HasValue = true
		}
		locks = append(locks, lock)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, errorAt(ErrUnterminated, open, p.pos-open, "unterminated parameter lock")
		}
		switch c := p.src[p.pos]; c {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return locks, nil
		default:
			return nil, errorAt(ErrUnexpectedChar, p.pos, 1, "unexpected %q in parameter lock", rune(c))
		}
	}
}

// cycle tries "h/d" at the cursor. A zero d yields a cycle that always
// fires. It rewinds and reports false when the text is not an unsigned
// fraction, leaving it to be read as a nudge.
func (p *parser) cycle() (Cycle, bool, error) {
	mark := p.pos
	hit := p.digits()
	if hit == "" || !p.at('/') || !isDigitAt(p.src, p.pos+1) {
		p.pos = mark
		return Cycle{}, false, nil
	}
	p.pos++
	ofStart := p.pos
	of := p.digits()
	h, err := strconv.Atoi(hit)
	if err != nil || h > maxNumber {
		return Cycle{}, false, errorAt(ErrInvalidNumber, mark, len(hit), "invalid number %q", hit)
	}
	o, err := strconv.Atoi(of)
	if err != nil || o > maxNumber {
		return Cycle{}, false, errorAt(ErrInvalidNumber, ofStart, len(of), "invalid number %q", of)
	}
	return Cycle{Hit: h, Of: o}, true, nil
}

// value reads a fraction (a/b), decimal (0.5, .5, 3), percentage (50%) or,
// when allowMillis is set, a millisecond duration (12ms).
func (p *parser) value(allowMillis, allowSign bool) (Value, error) {
	start := p.pos
	sign := 1.0
	if allowSign && (p.at('+') || p.at('-')) {
		if p.at('-') {
			sign = -1
		}
		p.pos++
	}
	numStart := p.pos
	intPart := p.digits()
	var v Value
	switch {
	case p.at('.') && isDigitAt(p.src, p.pos+1):
		p.pos++
		p.digits()
		f, err := strconv.ParseFloat(p.src[numStart:p.pos], 64)
		if err != nil {
			return Value{}, errorAt(ErrInvalidNumber, numStart, p.pos-numStart, "invalid number %q", p.src[numStart:p.pos])
		}
		v = Value{Unit: UnitDecimal, Amount: sign * f}
	case intPart != "" && p.at('/') && isDigitAt(p.src, p.pos+1):
		p.pos++
		den := p.digits()
		num, err1 := strconv.Atoi(intPart)
		d, err2 := strconv.Atoi(den)
		if err1 != nil || err2 != nil || num > maxNumber || d > maxNumber {
			return Value{}, errorAt(ErrInvalidNumber, numStart, p.pos-numStart, "invalid fraction %q", p.src[numStart:p.pos])
		}
		if sign < 0 {
			num = -num
		}
		v = Value{Unit: UnitFraction, Num: num, Den: d}
	case intPart != "":
		f, err := strconv.ParseFloat(intPart, 64)
		if err != nil {
			return Value{}, errorAt(ErrInvalidNumber, numStart, len(intPart), "invalid number %q", intPart)
		}
		v = Value{Unit: UnitDecimal, Amount: sign * f}
	default:
		return Value{}, p.expectedNumber()
	}
	if v.Unit != UnitFraction {
		if allowMillis && strings.HasPrefix(p.src[p.pos:], "ms") {
			p.pos += 2
			v.Unit = UnitMillis
		} else if p.at('%') {
			p.pos++
			v.Unit = UnitPercent
		}
	}
	v.Raw = p.src[start:p.pos]
	return v, nil
}

// skipUnknown consumes a modifier nobody interprets yet: one sigil rune,
// an optional sign, a numeric body and an optional % or ms suffix.
func (p *parser) skipUnknown() {
	_, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	if (p.at('+') || p.at('-')) && (isDigitAt(p.src, p.pos+1) || (p.peek(1) == '.' && isDigitAt(p.src, p.pos+2))) {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isDigit(c) {
			p.pos++
			continue
		}
		if (c == '.' || c == '/') && isDigitAt(p.src, p.pos+1) {
			p.pos += 2
			continue
		}
		break
	}
	if strings.HasPrefix(p.src[p.pos:], "ms") {
		p.pos += 2
	} else if p.at('%') {
		p.pos++
	}
}

func (p *parser) unsigned() (int, error) {
	start := p.pos
	d := p.digits()
	if d == "" {
		return 0, p.expectedNumber()
	}
	n, err := strconv.Atoi(d)
	if err != nil || n > maxNumber {
		return 0, errorAt(ErrInvalidNumber, start, len(d), "invalid number %q", d)
	}
	return n, nil
}

func (p *parser) expectedNumber() *ParseError {
	if p.pos >= len(p.src) {
		return errorAt(ErrUnexpectedEnd, p.pos, 1, "unexpected end of pattern, expected number")
	}
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	return errorAt(ErrExpectedNumber, p.pos, size, "expected number, found %q", r)
}

func (p *parser) digits() string {
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		case '#':
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) at(c byte) bool {
	return p.pos < len(p.src) && p.src[p.pos] == c
}

func (p *parser) peek(n int) byte {
	if p.pos+n < len(p.src) {
		return p.src[p.pos+n]
	}
	return 0
}

func normalizeTies(steps []Step) []Step {
	sounding := false
	for i := range steps {
		switch steps[i].Kind {
		case StepHit:
			sounding = true
		case StepRest:
			sounding = false
		case StepTie:
			if !sounding {
				steps[i].Kind = StepRest
			}
		}
	}
	return steps
}

func cloneStep(s Step) Step {
	out := s
	if s.Hits != nil {
		out.Hits = make([]Hit, len(s.Hits))
		for i, h := range s.Hits {
			out.Hits[i] = h.clone()
		}
	}
	return out
}

func uniqueSorted(values []int) []int {
	sort.Ints(values)
	out := values[:0]
	for _, v := range values {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDigitAt(s string, i int) bool { return i < len(s) && isDigit(s[i]) }

func isHitStart(c byte) bool {
	switch {
	case c == 'x', c == 'X', c == '1', c == '*':
		return true
	case c >= 'a' && c <= 'g', c >= 'A' && c <= 'G':
		return true
	}
	return false
}

func isTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '|', '.', '_', '(', ')', '#':
		return true
	}
	return isHitStart(c)
}

// ParseNote reads a whole string as a single note name such as "c4",
// "fs3" or "Bb".
func ParseNote(s string) (Note, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Note{}, errorAt(ErrUnexpectedEnd, 0, 1, "empty note name")
	}
	c := s[0] | 0x20
	if _, ok := noteClasses[c]; !ok {
		return Note{}, errorAt(ErrUnexpectedChar, 0, 1, "invalid note name %q", s)
	}
	p := &parser{src: s}
	n := p.parseNote()
	if p.pos != len(s) {
		return Note{}, errorAt(ErrUnexpectedChar, p.pos, len(s)-p.pos, "invalid note name %q", s)
	}
	return n, nil
}
