package model

import (
	"fmt"
	"strings"
)

// Part selects which value of a candle a series is built from.
type Part int

const (
	PartClose Part = iota
	PartOpen
	PartHigh
	PartLow
	PartVolume
	PartHL2
	PartHLC3
	PartOC2
	PartOHL3
	PartOHLC4
)

var partNames = [...]string{"CLOSE", "OPEN", "HIGH", "LOW", "VOLUME", "HL2", "HLC3", "OC2", "OHL3", "OHLC4"}

func (p Part) String() string {
	if p < 0 || int(p) >= len(partNames) {
		return "UNKNOWN"
	}
	return partNames[p]
}

// ParsePart parses a part name such as "hl2" (case-insensitive).
func ParsePart(s string) (Part, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range partNames {
		if name == s {
			return Part(i), nil
		}
	}
	return 0, fmt.Errorf("unknown candle part %q", s)
}

// Part returns the selected value in rupees (volume is returned as is).
func (c Candle) Part(p Part) float64 {
	o, h, l, cl := Rupees(c.Open), Rupees(c.High), Rupees(c.Low), Rupees(c.Close)
	switch p {
	case PartOpen:
		return o
	case PartHigh:
		return h
	case PartLow:
		return l
	case PartVolume:
		return float64(c.Volume)
	case PartHL2:
		return (h + l) / 2
	case PartHLC3:
		return (h + l + cl) / 3
	case PartOC2:
		return (o + cl) / 2
	case PartOHL3:
		return (o + h + l) / 3
	case PartOHLC4:
		return (o + h + l + cl) / 4
	default:
		return cl
	}
}
