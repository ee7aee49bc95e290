package grafikeye

import "regexp"

// statusPattern matches a status reply: ":ss" then whitespace then one scene
// code per control unit. Controllers may report more than eight positions.
var statusPattern = regexp.MustCompile(`:ss\s([0-9A-FGHMRL]{8,})`)

// Status is a parsed status reply. Index i holds the scene of control unit i+1.
type Status []Scene

// ParseStatus extracts the per-unit scenes from a reply line.
// It returns false when the line carries no status, which is not an error.
func ParseStatus(line string) (Status, bool) {
	m := statusPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	codes := m[1]
	status := make(Status, len(codes))
	for i := range codes {
		status[i] = Scene(codes[i : i+1])
	}
	return status, true
}

// Scene returns the scene reported for unit.
func (s Status) Scene(unit ControlUnit) (Scene, bool) {
	if !unit.Valid() || unit.index() >= len(s) {
		return "", false
	}
	return s[unit.index()], true
}

// ByUnit returns the scenes of control units 1..8. Positions beyond the
// eighth have no control unit and are left out.
func (s Status) ByUnit() map[ControlUnit]Scene {
	out := make(map[ControlUnit]Scene, controlUnitCount)
	for u := MinControlUnit; u <= MaxControlUnit; u++ {
		if scene, ok := s.Scene(u); ok {
			out[u] = scene
		}
	}
	return out
}
