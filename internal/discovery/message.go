package discovery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/sketchd/internal/boards"
)

// MessageType names a discovery notification on the wire.
type MessageType string

const (
	// MessageBoardsChanged carries a full boards.Snapshot.
	MessageBoardsChanged MessageType = "boards_changed"
	// MessagePlatformInstalled carries the installed boards.BoardsPackage.
	MessagePlatformInstalled MessageType = "platform_installed"
	// MessagePlatformUninstalled carries the uninstalled boards.BoardsPackage.
	MessagePlatformUninstalled MessageType = "platform_uninstalled"
)

// Message is one JSON text frame from the discovery service.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrUnknownMessage is returned by Decode for message types this client does
// not handle. The client skips such messages.
var ErrUnknownMessage = errors.New("unknown discovery message")

// Decode converts a wire message into a reconciler event.
func Decode(msg Message) (boards.Event, error) {
	switch msg.Type {
	case MessageBoardsChanged:
		var snapshot boards.Snapshot
		if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
			return boards.Event{}, fmt.Errorf("failed to decode %s: %w", msg.Type, err)
		}
		return boards.Event{Kind: boards.EventBoardsChanged, Snapshot: snapshot}, nil

	case MessagePlatformInstalled, MessagePlatformUninstalled:
		var pkg boards.BoardsPackage
		if err := json.Unmarshal(msg.Data, &pkg); err != nil {
			return boards.Event{}, fmt.Errorf("failed to decode %s: %w", msg.Type, err)
		}
		if pkg.ID == "" {
			return boards.Event{}, fmt.Errorf("failed to decode %s: missing package id", msg.Type)
		}
		kind := boards.EventPlatformInstalled
		if msg.Type == MessagePlatformUninstalled {
			kind = boards.EventPlatformUninstalled
		}
		return boards.Event{Kind: kind, Package: pkg}, nil
	}
	return boards.Event{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

// Encode is the inverse of Decode.
func Encode(event boards.Event) (Message, error) {
	var (
		typ     MessageType
		payload any
	)
	switch event.Kind {
	case boards.EventBoardsChanged:
		typ, payload = MessageBoardsChanged, event.Snapshot
	case boards.EventPlatformInstalled:
		typ, payload = MessagePlatformInstalled, event.Package
	case boards.EventPlatformUninstalled:
		typ, payload = MessagePlatformUninstalled, event.Package
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, event.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: data}, nil
}
