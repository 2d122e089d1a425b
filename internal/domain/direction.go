package domain

import (
	"fmt"
	"strings"
)

// Direction identifies one of the two audio paths through the gateway.
// RX is radio-sourced audio bound for the console peer; TX is peer-sourced
// audio bound for the radio.
type Direction int

const (
	DirectionRX Direction = iota
	DirectionTX
)

func (d Direction) String() string {
	switch d {
	case DirectionRX:
		return "rx"
	case DirectionTX:
		return "tx"
	default:
		return "unknown"
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionRX {
		return DirectionTX
	}
	return DirectionRX
}

// ParseDirection maps "rx" or "tx" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rx":
		return DirectionRX, nil
	case "tx":
		return DirectionTX, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
