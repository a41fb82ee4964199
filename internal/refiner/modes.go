package refiner

import (
	"fmt"
	"strings"
)

// Mode selects how many passes a refinement may take.
type Mode string

const (
	Conservative Mode = "conservative"
	Balanced     Mode = "balanced"
	Aggressive   Mode = "aggressive"
)

// DefaultMode is used when no mode is given.
const DefaultMode = Balanced

type modeInfo struct {
	passes      int
	description string
}

var modes = map[Mode]modeInfo{
	Conservative: {passes: 2, description: "Minimal changes, preserve the author's voice"},
	Balanced:     {passes: 3, description: "Clear improvements without over-editing"},
	Aggressive:   {passes: 5, description: "Maximum clarity, extensive rewrites allowed"},
}

// Modes lists the known modes from least to most passes.
func Modes() []Mode {
	return []Mode{Conservative, Balanced, Aggressive}
}

// ParseMode accepts a mode name in any case. The empty string selects
// DefaultMode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultMode, nil
	}
	m := Mode(s)
	if _, ok := modes[m]; !ok {
		return "", fmt.Errorf("unknown mode %q (want conservative, balanced or aggressive)", s)
	}
	return m, nil
}

// MaxPasses is the pass budget of m, or 0 for an unknown mode.
func (m Mode) MaxPasses() int {
	return modes[m].passes
}

func (m Mode) Description() string {
	return modes[m].description
}
