package pattern

type Unit int

const (
	UnitNone Unit = iota
	UnitFraction
	UnitPercent
	UnitDecimal
	UnitMillis
)

// Value is a duration-like or ratio-like number as written: a/b, N%, 0.5
// or Nms. Amount holds the signed number for every unit except fractions.
type Value struct {
	Unit   Unit
	Num    int
	Den    int
	Amount float64
	Raw    string
}

func (v Value) IsSet() bool { return v.Unit != UnitNone }

// Fraction converts the value to a fraction of one step. stepSeconds is
// only consulted for millisecond values.
func (v Value) Fraction(stepSeconds float64) float64 {
	switch v.Unit {
	case UnitFraction:
		if v.Den == 0 {
			return 0
		}
		return float64(v.Num) / float64(v.Den)
	case UnitPercent:
		return v.Amount / 100
	case UnitDecimal:
		return v.Amount
	case UnitMillis:
		if stepSeconds <= 0 {
			return 0
		}
		return v.Amount / 1000 / stepSeconds
	}
	return 0
}

// Ratio is Fraction for values that can never be milliseconds.
func (v Value) Ratio() float64 { return v.Fraction(0) }
