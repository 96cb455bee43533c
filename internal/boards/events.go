package boards

// Snapshot is the full current set of attached boards and available ports.
// Discovery always reports whole snapshots, never incremental patches.
type Snapshot struct {
	AttachedBoards []AttachedBoard `json:"attachedBoards"`
	AvailablePorts []Port          `json:"availablePorts"`
}

// EventKind identifies a discovery notification.
type EventKind int

const (
	// EventBoardsChanged carries a new Snapshot.
	EventBoardsChanged EventKind = iota
	// EventPlatformInstalled carries the installed BoardsPackage.
	EventPlatformInstalled
	// EventPlatformUninstalled carries the uninstalled BoardsPackage.
	EventPlatformUninstalled
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventBoardsChanged:
		return "boards-changed"
	case EventPlatformInstalled:
		return "platform-installed"
	case EventPlatformUninstalled:
		return "platform-uninstalled"
	default:
		return "unknown"
	}
}

// Event is a single notification from a board discovery source.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Package  BoardsPackage
}
