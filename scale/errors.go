package scale

import "errors"

var (
	// ErrUnsupportedType is returned for a Go type with no SCALE encoding.
	ErrUnsupportedType = errors.New("scale: unsupported type")

	// ErrInputTooShort is returned when decoding runs past the end of input.
	ErrInputTooShort = errors.New("scale: input too short")

	// ErrCompactOverflow is returned when a compact integer exceeds the
	// decoder's target width.
	ErrCompactOverflow = errors.New("scale: compact integer overflow")

	// ErrInvalidBool is returned when a decoded bool byte is neither 0 nor 1.
	ErrInvalidBool = errors.New("scale: invalid bool byte")
)
