package models

import (
	"fmt"
	"strings"
)

// InstrumentType partitions instruments by asset class.
type InstrumentType int

const (
	Spot InstrumentType = iota
	Perp
	Option
	Futures
)

// String returns the upper-case prefix used in canonical symbol names.
func (t InstrumentType) String() string {
	switch t {
	case Spot:
		return "SPOT"
	case Perp:
		return "PERP"
	case Option:
		return "OPTION"
	case Futures:
		return "FUT"
	default:
		return fmt.Sprintf("InstrumentType(%d)", int(t))
	}
}

// ParseInstrumentType accepts the canonical prefixes as well as the lower-case
// names used in configuration files.
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SPOT":
		return Spot, nil
	case "PERP", "PERPETUAL", "SWAP":
		return Perp, nil
	case "OPTION":
		return Option, nil
	case "FUT", "FUTURES":
		return Futures, nil
	default:
		return Spot, fmt.Errorf("unknown instrument type %q", s)
	}
}

func (t InstrumentType) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(t.String())), nil
}

func (t *InstrumentType) UnmarshalText(text []byte) error {
	v, err := ParseInstrumentType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
