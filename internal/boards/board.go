package boards

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// UnknownBoardName is the placeholder name for a board port nothing is known about.
const UnknownBoardName = "Unknown"

// Board identifies a board by name and, when its platform is installed, FQBN.
// Third-party or unrecognized boards may have no FQBN.
type Board struct {
	Name string `json:"name"`
	FQBN string `json:"fqbn,omitempty"`

	// Package information, set when the board came from an installed boards package.
	PackageID   string `json:"packageId,omitempty"`
	PackageName string `json:"packageName,omitempty"`
}

// HasPackage reports whether the board carries boards-package information.
func (b Board) HasPackage() bool {
	return b.PackageID != ""
}

// SameAs reports whether the boards have the same name and, when both have
// an FQBN, the same FQBN.
func (b Board) SameAs(other Board) bool {
	if b.Name != other.Name {
		return false
	}
	if b.FQBN != "" && other.FQBN != "" {
		return b.FQBN == other.FQBN
	}
	return true
}

// Equals reports strict name and FQBN equality.
func (b Board) Equals(other Board) bool {
	return b.Name == other.Name && b.FQBN == other.FQBN
}

func (b Board) String() string {
	if b.FQBN == "" {
		return b.Name
	}
	return fmt.Sprintf("%s [%s]", b.Name, b.FQBN)
}

// AttachedBoard is a board the discovery daemon recognized on a port.
type AttachedBoard struct {
	Board
	Port *Port `json:"port,omitempty"`
}

// State describes how much is known about an available board.
type State int

const (
	// StateRecognized means the discovery daemon reported the board on this port.
	StateRecognized State = iota
	// StateGuessed means the board was remembered from an earlier selection on this port.
	StateGuessed
	// StateIncomplete means nothing confirms the board.
	StateIncomplete
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateRecognized:
		return "recognized"
	case StateGuessed:
		return "guessed"
	case StateIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "recognized":
		*s = StateRecognized
	case "guessed":
		*s = StateGuessed
	case "incomplete":
		*s = StateIncomplete
	default:
		return fmt.Errorf("unknown board state %q", text)
	}
	return nil
}

// AvailableBoard is a derived, ready-to-show board entry. It is recomputed on
// every reconciliation.
type AvailableBoard struct {
	Board
	State    State `json:"state"`
	Selected bool  `json:"selected,omitempty"`
	Port     *Port `json:"port,omitempty"`
}

// CompareAvailable orders available boards: selected first, then by name,
// FQBN, port and finally state. A missing FQBN or port sorts after a present
// one, which keeps the order transitive.
func CompareAvailable(left, right AvailableBoard) int {
	if left.Selected && !right.Selected {
		return -1
	}
	if right.Selected && !left.Selected {
		return 1
	}
	if result := NaturalCompare(left.Name, right.Name); result != 0 {
		return result
	}
	if result := comparePresence(left.FQBN != "", right.FQBN != ""); result != 0 {
		return result
	}
	if result := NaturalCompare(left.FQBN, right.FQBN); result != 0 {
		return result
	}
	if result := comparePresence(left.Port != nil, right.Port != nil); result != 0 {
		return result
	}
	if left.Port != nil {
		if result := ComparePorts(*left.Port, *right.Port); result != 0 {
			return result
		}
	}
	switch {
	case left.State < right.State:
		return -1
	case left.State > right.State:
		return 1
	}
	return 0
}

func comparePresence(left, right bool) int {
	switch {
	case left && !right:
		return -1
	case right && !left:
		return 1
	}
	return 0
}

// BoardsPackage is an installed (or uninstalled) boards platform.
type BoardsPackage struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	InstalledVersion string  `json:"installedVersion,omitempty"`
	Boards           []Board `json:"boards"`
}

// findBoard returns the package's board with the given name.
func (p BoardsPackage) findBoard(name string) (Board, bool) {
	for _, b := range p.Boards {
		if b.Name == name {
			if b.PackageID == "" {
				b.PackageID = p.ID
				b.PackageName = p.Name
			}
			return b, true
		}
	}
	return Board{}, false
}

// canonicalVersion turns a platform version such as "1.8.3" into a semver
// string, or "" when it is not a valid version.
func canonicalVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}
