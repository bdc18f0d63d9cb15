package scale

import (
	"fmt"
	"strings"
)

// Mode is the combined six-value enumeration accepted in configuration
// files and flags. Callers split it into its family with Coordinate or
// ValueRange before use.
type Mode uint8

const (
	ModeInputResolution Mode = iota
	ModeNetOutputResolution
	ModeOutputResolution
	ModeZeroToOne
	ModePlusMinusOne
	ModeUnsignedChar
)

var modeNames = []string{
	"InputResolution",
	"NetOutputResolution",
	"OutputResolution",
	"ZeroToOne",
	"PlusMinusOne",
	"UnsignedChar",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode parses a mode by name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidScaleMode, s)
}

// Coordinate returns the coordinate mode m names.
func (m Mode) Coordinate() (CoordinateMode, error) {
	switch m {
	case ModeInputResolution:
		return InputResolution, nil
	case ModeNetOutputResolution:
		return NetOutputResolution, nil
	case ModeOutputResolution:
		return OutputResolution, nil
	}
	return 0, fmt.Errorf("%w: %s is not a coordinate mode", ErrInvalidScaleMode, m)
}

// ValueRange returns the value range m names.
func (m Mode) ValueRange() (ValueRange, error) {
	switch m {
	case ModeZeroToOne:
		return ZeroToOne, nil
	case ModePlusMinusOne:
		return PlusMinusOne, nil
	case ModeUnsignedChar:
		return UnsignedChar, nil
	}
	return 0, fmt.Errorf("%w: %s is not a value range", ErrInvalidScaleMode, m)
}

// ParseValueRange parses a value range name such as "ZeroToOne".
func ParseValueRange(s string) (ValueRange, error) {
	m, err := ParseMode(s)
	if err != nil {
		return 0, err
	}
	return m.ValueRange()
}
