package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sketchd/internal/boards"
)

var (
	com3 = boards.Port{Address: "COM3", Protocol: "serial"}
	uno  = boards.Board{Name: "Arduino Uno", FQBN: "arduino:avr:uno"}
)

// discoveryServer sends one batch of messages per connection and closes it.
type discoveryServer struct {
	batches     [][]Message
	connections atomic.Int32
}

func (s *discoveryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	n := int(s.connections.Add(1)) - 1
	if n >= len(s.batches) {
		// Keep the last connection open until the client goes away.
		_, _, _ = conn.Read(r.Context())
		return
	}
	for _, msg := range s.batches[n] {
		if err := wsjson.Write(r.Context(), conn, msg); err != nil {
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustEncode(t *testing.T, event boards.Event) Message {
	t.Helper()
	msg, err := Encode(event)
	require.NoError(t, err)
	return msg
}

func receive(t *testing.T, events <-chan boards.Event) boards.Event {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return boards.Event{}
	}
}

func TestClient_StreamsEventsAcrossReconnects(t *testing.T) {
	snapshot := boards.Snapshot{
		AttachedBoards: []boards.AttachedBoard{{Board: uno, Port: &com3}},
		AvailablePorts: []boards.Port{com3},
	}
	avr := boards.BoardsPackage{ID: "arduino:avr", Name: "Arduino AVR Boards", InstalledVersion: "1.8.3"}

	server := &discoveryServer{batches: [][]Message{
		{
			mustEncode(t, boards.Event{Kind: boards.EventBoardsChanged, Snapshot: snapshot}),
			{Type: "heartbeat", Data: json.RawMessage(`{}`)},
		},
		{
			{Type: MessageBoardsChanged, Data: json.RawMessage(`not json`)},
			mustEncode(t, boards.Event{Kind: boards.EventPlatformInstalled, Package: avr}),
		},
	}}
	srv := httptest.NewServer(server)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewClient(wsURL(srv),
		WithLogger(log.New(io.Discard, "", 0)),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	events := client.Events(ctx)

	first := receive(t, events)
	assert.Equal(t, boards.EventBoardsChanged, first.Kind)
	require.Len(t, first.Snapshot.AttachedBoards, 1)
	assert.Equal(t, uno, first.Snapshot.AttachedBoards[0].Board)

	// The unknown and malformed frames are skipped.
	second := receive(t, events)
	assert.Equal(t, boards.EventPlatformInstalled, second.Kind)
	assert.Equal(t, avr.ID, second.Package.ID)
	assert.GreaterOrEqual(t, server.connections.Load(), int32(2))

	cancel()
	for range events {
	}
}

func TestClient_RunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Nothing listens on this address; the client keeps retrying.
	client := NewClient("ws://127.0.0.1:1/",
		WithLogger(log.New(io.Discard, "", 0)),
		WithBackoff(5*time.Millisecond, 10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, make(chan boards.Event)) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		want    boards.EventKind
		wantErr bool
	}{
		{"boards changed", Message{Type: MessageBoardsChanged, Data: json.RawMessage(`{"attachedBoards":[],"availablePorts":[{"address":"COM3","protocol":"serial"}]}`)}, boards.EventBoardsChanged, false},
		{"installed", Message{Type: MessagePlatformInstalled, Data: json.RawMessage(`{"id":"arduino:avr","name":"AVR","installedVersion":"1.8.3","boards":[]}`)}, boards.EventPlatformInstalled, false},
		{"uninstalled", Message{Type: MessagePlatformUninstalled, Data: json.RawMessage(`{"id":"arduino:avr"}`)}, boards.EventPlatformUninstalled, false},
		{"missing package id", Message{Type: MessagePlatformInstalled, Data: json.RawMessage(`{"name":"AVR"}`)}, 0, true},
		{"malformed", Message{Type: MessageBoardsChanged, Data: json.RawMessage(`[`)}, 0, true},
		{"unknown", Message{Type: "heartbeat"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Decode(tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Kind)
		})
	}

	_, err := Decode(Message{Type: "heartbeat"})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestEncodeDecodeSnapshot(t *testing.T) {
	event := boards.Event{Kind: boards.EventBoardsChanged, Snapshot: boards.Snapshot{
		AttachedBoards: []boards.AttachedBoard{{Board: uno, Port: &com3}},
		AvailablePorts: []boards.Port{com3},
	}}
	msg, err := Encode(event)
	require.NoError(t, err)
	assert.Equal(t, MessageBoardsChanged, msg.Type)

	decoded, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}
