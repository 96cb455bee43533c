package boards

import "fmt"

// BoardsConfig is the user's board selection.
type BoardsConfig struct {
	SelectedBoard *Board `json:"selectedBoard,omitempty"`
	SelectedPort  *Port  `json:"selectedPort,omitempty"`
}

// SameAs reports whether board (reachable on port) is the selected board on the
// selected port. Without a selected port, any port matches.
func (c BoardsConfig) SameAs(board Board, port *Port) bool {
	if c.SelectedBoard == nil {
		return false
	}
	if !c.SelectedBoard.SameAs(board) {
		return false
	}
	if c.SelectedPort == nil {
		return true
	}
	return port != nil && c.SelectedPort.SameAs(*port)
}

// Equal reports deep equality of two configs.
func (c BoardsConfig) Equal(other BoardsConfig) bool {
	if (c.SelectedBoard == nil) != (other.SelectedBoard == nil) {
		return false
	}
	if c.SelectedBoard != nil && *c.SelectedBoard != *other.SelectedBoard {
		return false
	}
	if (c.SelectedPort == nil) != (other.SelectedPort == nil) {
		return false
	}
	return c.SelectedPort == nil || *c.SelectedPort == *other.SelectedPort
}

// Clone returns a deep copy.
func (c BoardsConfig) Clone() BoardsConfig {
	out := BoardsConfig{SelectedPort: copyPort(c.SelectedPort)}
	if c.SelectedBoard != nil {
		b := *c.SelectedBoard
		out.SelectedBoard = &b
	}
	return out
}

func (c BoardsConfig) String() string {
	board, port := "<none>", "<none>"
	if c.SelectedBoard != nil {
		board = c.SelectedBoard.String()
	}
	if c.SelectedPort != nil {
		port = c.SelectedPort.String()
	}
	return fmt.Sprintf("board=%s port=%s", board, port)
}

// CanVerify reports whether a sketch can be compiled against the config: a
// board is selected.
func CanVerify(c BoardsConfig) bool {
	return verifyProblem(c) == ""
}

// CanUploadTo reports whether a sketch can be uploaded with the config: it
// can be verified, a port is selected and the board has an FQBN.
func CanUploadTo(c BoardsConfig) bool {
	return uploadProblem(c) == ""
}

func verifyProblem(c BoardsConfig) string {
	if c.SelectedBoard == nil {
		return "No boards selected."
	}
	return ""
}

func uploadProblem(c BoardsConfig) string {
	if problem := verifyProblem(c); problem != "" {
		return problem
	}
	if c.SelectedPort == nil {
		return fmt.Sprintf("No ports selected for board: '%s'.", c.SelectedBoard.Name)
	}
	if c.SelectedBoard.FQBN == "" {
		return fmt.Sprintf("The FQBN is not available for the selected board %s. Do you have the corresponding core installed?", c.SelectedBoard.Name)
	}
	return ""
}
