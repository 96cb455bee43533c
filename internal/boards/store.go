package boards

import "context"

// Storage keys used by the reconciler.
const (
	KeyLatestValidBoardsConfig = "latest-valid-boards-config"
	KeyLatestBoardsConfig      = "latest-boards-config"
	lastSelectedBoardKeyPrefix = "last-selected-board-on-port:"
)

// KeyValueStore persists JSON-serializable values by key.
//
// GetData decodes the stored value into dest and reports whether the key was
// present. SetData with a nil value (or a nil pointer) removes the key.
type KeyValueStore interface {
	GetData(ctx context.Context, key string, dest any) (bool, error)
	SetData(ctx context.Context, key string, value any) error
}

// LastSelectedBoardKey is the storage key remembering which board the user
// last selected on port.
func LastSelectedBoardKey(port Port) string {
	return lastSelectedBoardKeyPrefix + port.Key()
}
