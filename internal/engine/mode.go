package engine

import (
	"strings"
)

// Mode selects what a submission produces.
type Mode string

const (
	// ModePreview writes quicklooks only.
	ModePreview Mode = "preview"
	// ModeExport schedules export tasks only.
	ModeExport Mode = "export"
	// ModeBoth does both.
	ModeBoth Mode = "both"
)

// ModeFromFlags maps the display/export flag pair onto a Mode. Both flags
// false names no output and is rejected.
func ModeFromFlags(display, export bool) (Mode, error) {
	switch {
	case display && export:
		return ModeBoth, nil
	case display:
		return ModePreview, nil
	case export:
		return ModeExport, nil
	default:
		return "", configErr("mode", "neither display nor export requested")
	}
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(value string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(value)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate rejects unknown modes.
func (m Mode) Validate() error {
	switch m {
	case ModePreview, ModeExport, ModeBoth:
		return nil
	default:
		return configErr("mode", "unknown mode %q", string(m))
	}
}

// Preview reports whether quicklooks are written.
func (m Mode) Preview() bool { return m == ModePreview || m == ModeBoth }

// Export reports whether export tasks are scheduled.
func (m Mode) Export() bool { return m == ModeExport || m == ModeBoth }
