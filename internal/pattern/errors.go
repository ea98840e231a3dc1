package pattern

import "fmt"

type ErrorKind int

const (
	ErrUnexpectedEnd ErrorKind = iota
	ErrUnexpectedChar
	ErrExpectedNumber
	ErrInvalidNumber
	ErrInvalidChord
	ErrInvalidRepeat
	ErrUnterminated
)

// ParseError locates a malformed span in the pattern source. Offset and
// Length are byte positions.
type ParseError struct {
	Kind    ErrorKind
	Offset  int
	Length  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pattern: %s at offset %d", e.Message, e.Offset)
}

func errorAt(kind ErrorKind, offset, length int, format string, args ...any) *ParseError {
	if length < 1 {
		length = 1
	}
	return &ParseError{Kind: kind, Offset: offset, Length: length, Message: fmt.Sprintf(format, args...)}
}
