package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mschirtzinger/sketchd/internal/boards"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// recentSyncs is how many sync reports the snapshot keeps.
const recentSyncs = 20

// SyncReportData contains the outcome of one sketch sync
type SyncReportData struct {
	RunID         string        `json:"run_id"`
	Sketch        string        `json:"sketch"`
	Pulled        int           `json:"pulled"`
	Pushed        int           `json:"pushed"`
	DeletedLocal  int           `json:"deleted_local"`
	DeletedRemote int           `json:"deleted_remote"`
	Conflicts     int           `json:"conflicts"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// SnapshotData is the full state sent to new clients
type SnapshotData struct {
	BoardsConfig    boards.BoardsConfig     `json:"boards_config"`
	AvailableBoards []boards.AvailableBoard `json:"available_boards"`
	RecentSyncs     []SyncReportData        `json:"recent_syncs"`
}

// Handler turns reconciler and sync events into dashboard messages and keeps
// the state new clients receive on connect.
type Handler struct {
	server *Server
	logger *log.Logger

	mu        sync.Mutex
	config    boards.BoardsConfig
	available []boards.AvailableBoard
	syncs     []SyncReportData // newest last
}

// NewHandler creates a handler and registers it as the server's snapshot
// source.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	h := &Handler{server: server, logger: logger}
	server.SetSnapshot(h.snapshot)
	return h
}

// Attach seeds the handler with the reconciler's current state and follows
// its changes until the returned function is called.
func (h *Handler) Attach(r *boards.Reconciler) (detach func()) {
	h.mu.Lock()
	h.config = r.BoardsConfig()
	h.available = r.AvailableBoards()
	h.mu.Unlock()

	offConfig := r.OnBoardsConfigChanged(h.OnBoardsConfigChanged)
	offAvailable := r.OnAvailableBoardsChanged(h.OnAvailableBoardsChanged)
	return func() {
		offConfig()
		offAvailable()
	}
}

// OnBoardsConfigChanged handles board selection changes
func (h *Handler) OnBoardsConfigChanged(config boards.BoardsConfig) {
	h.mu.Lock()
	h.config = config.Clone()
	h.mu.Unlock()

	if err := h.server.BroadcastData(MessageTypeBoardsConfig, config); err != nil {
		h.logger.Printf("Failed to broadcast boards config: %v", err)
	}
}

// OnAvailableBoardsChanged handles available board updates
func (h *Handler) OnAvailableBoardsChanged(available []boards.AvailableBoard) {
	h.mu.Lock()
	h.available = append([]boards.AvailableBoard(nil), available...)
	h.mu.Unlock()

	if err := h.server.BroadcastData(MessageTypeAvailableBoards, available); err != nil {
		h.logger.Printf("Failed to broadcast available boards: %v", err)
	}
}

// Record broadcasts a finished sync. It implements sketchsync.Reporter.
func (h *Handler) Record(ctx context.Context, report sketchsync.Report) error {
	data := SyncReportData{
		RunID:         report.RunID,
		Sketch:        report.Sketch,
		Pulled:        report.Pulled,
		Pushed:        report.Pushed,
		DeletedLocal:  report.DeletedLocal,
		DeletedRemote: report.DeletedRemote,
		Conflicts:     report.Conflicts,
		Duration:      report.Finished.Sub(report.Started),
		Error:         report.ErrorMessage(),
	}

	h.mu.Lock()
	h.syncs = append(h.syncs, data)
	if len(h.syncs) > recentSyncs {
		h.syncs = append([]SyncReportData(nil), h.syncs[len(h.syncs)-recentSyncs:]...)
	}
	h.mu.Unlock()

	return h.server.BroadcastData(MessageTypeSyncReport, data)
}

func (h *Handler) snapshot() (Message, error) {
	h.mu.Lock()
	data := SnapshotData{
		BoardsConfig:    h.config.Clone(),
		AvailableBoards: append([]boards.AvailableBoard{}, h.available...),
		RecentSyncs:     append([]SyncReportData{}, h.syncs...),
	}
	h.mu.Unlock()
	return NewMessage(MessageTypeSnapshot, data)
}

var _ sketchsync.Reporter = (*Handler)(nil)
