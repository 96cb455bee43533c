package boards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Warner receives user-facing warnings, e.g. when a non-silent CanUploadTo fails.
type Warner func(message string)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler's logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWarner sets the sink for user-facing warnings.
func WithWarner(w Warner) Option {
	return func(r *Reconciler) {
		if w != nil {
			r.warn = w
		}
	}
}

// Reconciler maintains the available boards view and the user's board selection.
//
// Every reconciliation recomputes the view from the latest full snapshot of
// attached boards and available ports, so rapid-fire events are safe: the last
// snapshot wins. Mutating operations are serialized; listeners are called
// from within the operation that caused the change and must not call
// mutating methods synchronously.
type Reconciler struct {
	store  KeyValueStore
	logger *log.Logger
	warn   Warner

	cycleMu sync.Mutex

	mu          sync.RWMutex
	config      BoardsConfig
	latest      *BoardsConfig
	latestValid *BoardsConfig
	attached    []AttachedBoard
	ports       []Port
	available   []AvailableBoard
	installed   map[string]string // package ID -> canonical semver

	listenersMu     sync.Mutex
	nextListenerID  int
	configListeners map[int]func(BoardsConfig)
	boardsListeners map[int]func([]AvailableBoard)
}

// NewReconciler creates a Reconciler persisting its state to store.
func NewReconciler(store KeyValueStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:           store,
		logger:          log.New(os.Stderr, "[boards] ", log.LstdFlags),
		installed:       make(map[string]string),
		configListeners: make(map[int]func(BoardsConfig)),
		boardsListeners: make(map[int]func([]AvailableBoard)),
	}
	r.warn = func(message string) { r.logger.Printf("Warning: %s", message) }
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadState restores the persisted selection and then tries to reconnect. The
// latest valid (uploadable) config is preferred; otherwise the latest config
// is restored.
func (r *Reconciler) LoadState(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	err := r.loadStateLocked(ctx)
	if _, reconnectErr := r.tryReconnect(ctx); reconnectErr != nil {
		err = errors.Join(err, reconnectErr)
	}
	return err
}

func (r *Reconciler) loadStateLocked(ctx context.Context) error {
	var valid BoardsConfig
	found, err := r.store.GetData(ctx, KeyLatestValidBoardsConfig, &valid)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", KeyLatestValidBoardsConfig, err)
	}
	if found {
		r.mu.Lock()
		r.latestValid = &valid
		r.mu.Unlock()
		if CanUploadTo(valid) {
			return r.setConfigLocked(ctx, valid)
		}
	}

	var latest BoardsConfig
	found, err = r.store.GetData(ctx, KeyLatestBoardsConfig, &latest)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", KeyLatestBoardsConfig, err)
	}
	if found {
		return r.setConfigLocked(ctx, latest)
	}
	return nil
}

// BoardsConfig returns a copy of the current selection.
func (r *Reconciler) BoardsConfig() BoardsConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Clone()
}

// AvailableBoards returns a copy of the current sorted available boards.
func (r *Reconciler) AvailableBoards() []AvailableBoard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAvailable(r.available)
}

// SetBoardsConfig replaces the whole selection, persists it, reconciles and
// notifies config listeners. A persistence failure is returned after the new
// config has been applied.
func (r *Reconciler) SetBoardsConfig(ctx context.Context, config BoardsConfig) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.setConfigLocked(ctx, config)
}

// HandleBoardsChanged replaces attached boards and available ports with the
// snapshot, reconciles and then tries to reconnect to the latest valid config.
func (r *Reconciler) HandleBoardsChanged(ctx context.Context, snapshot Snapshot) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.mu.Lock()
	r.attached = append([]AttachedBoard(nil), snapshot.AttachedBoards...)
	r.ports = append([]Port(nil), snapshot.AvailablePorts...)
	r.mu.Unlock()

	r.logger.Printf("Attached boards and available ports changed: boards=%d ports=%d",
		len(snapshot.AttachedBoards), len(snapshot.AvailablePorts))

	err := r.reconcile(ctx)
	if _, reconnectErr := r.tryReconnect(ctx); reconnectErr != nil {
		err = errors.Join(err, reconnectErr)
	}
	return err
}

// Reconnect runs the auto-reconnect heuristic on its own. It reports whether
// the selection was changed.
func (r *Reconciler) Reconnect(ctx context.Context) (bool, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.tryReconnect(ctx)
}

// CanVerify is the package-level CanVerify that also warns when silent is false.
func (r *Reconciler) CanVerify(config BoardsConfig, silent bool) bool {
	problem := verifyProblem(config)
	if problem != "" && !silent {
		r.warn(problem)
	}
	return problem == ""
}

// CanUploadTo is the package-level CanUploadTo that also warns when silent is false.
func (r *Reconciler) CanUploadTo(config BoardsConfig, silent bool) bool {
	problem := uploadProblem(config)
	if problem != "" && !silent {
		r.warn(problem)
	}
	return problem == ""
}

// OnBoardsConfigChanged registers fn for selection changes.
func (r *Reconciler) OnBoardsConfigChanged(fn func(BoardsConfig)) (unsubscribe func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	id := r.nextListenerID
	r.nextListenerID++
	r.configListeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.configListeners, id)
	}
}

// OnAvailableBoardsChanged registers fn for changes of the sorted available
// boards. It only fires when the list actually differs.
func (r *Reconciler) OnAvailableBoardsChanged(fn func([]AvailableBoard)) (unsubscribe func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	id := r.nextListenerID
	r.nextListenerID++
	r.boardsListeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.boardsListeners, id)
	}
}

// Run dispatches discovery events until events is closed or ctx is done.
// Event handling errors are logged and do not stop the loop.
func (r *Reconciler) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			var err error
			switch event.Kind {
			case EventBoardsChanged:
				err = r.HandleBoardsChanged(ctx, event.Snapshot)
			case EventPlatformInstalled:
				err = r.HandlePlatformInstalled(ctx, event.Package)
			case EventPlatformUninstalled:
				err = r.HandlePlatformUninstalled(ctx, event.Package)
			default:
				r.logger.Printf("Ignoring unknown discovery event: %v", event.Kind)
			}
			if err != nil {
				r.logger.Printf("Error handling %s event: %v", event.Kind, err)
			}
		}
	}
}

// setConfigLocked applies config, persists, reconciles and fires config
// listeners. Callers hold cycleMu.
func (r *Reconciler) setConfigLocked(ctx context.Context, config BoardsConfig) error {
	r.doSetConfig(config)
	saveErr := r.saveState(ctx)
	if saveErr != nil {
		r.logger.Printf("Warning: failed to persist boards config: %v", saveErr)
	}
	reconcileErr := r.reconcile(ctx)
	r.fireConfigChanged()
	return errors.Join(saveErr, reconcileErr)
}

func (r *Reconciler) doSetConfig(config BoardsConfig) {
	r.logger.Printf("Board config changed: %s", config)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config.Clone()
	latest := config.Clone()
	r.latest = &latest
	if CanUploadTo(config) {
		valid := config.Clone()
		r.latestValid = &valid
	}
}

func (r *Reconciler) saveState(ctx context.Context) error {
	r.mu.RLock()
	config := r.config.Clone()
	var latest, latestValid *BoardsConfig
	if r.latest != nil {
		c := r.latest.Clone()
		latest = &c
	}
	if r.latestValid != nil {
		c := r.latestValid.Clone()
		latestValid = &c
	}
	r.mu.RUnlock()

	var errs []error
	// Remember the board per port so third-party boards the daemon cannot
	// identify can be guessed next time.
	if config.SelectedBoard != nil && config.SelectedPort != nil {
		key := LastSelectedBoardKey(*config.SelectedPort)
		if err := r.store.SetData(ctx, key, config.SelectedBoard); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %s: %w", key, err))
		}
	}
	if err := r.store.SetData(ctx, KeyLatestValidBoardsConfig, latestValid); err != nil {
		errs = append(errs, fmt.Errorf("failed to save %s: %w", KeyLatestValidBoardsConfig, err))
	}
	if err := r.store.SetData(ctx, KeyLatestBoardsConfig, latest); err != nil {
		errs = append(errs, fmt.Errorf("failed to save %s: %w", KeyLatestBoardsConfig, err))
	}
	return errors.Join(errs...)
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	r.mu.RLock()
	config := r.config.Clone()
	ports := append([]Port(nil), r.ports...)
	attached := append([]AttachedBoard(nil), r.attached...)
	current := r.available
	r.mu.RUnlock()

	var errs []error

	// Unset the selected port if it is gone. The board stays selected.
	if config.SelectedPort != nil && !containsPort(ports, *config.SelectedPort) {
		r.logger.Printf("Selected port %s is no longer available", config.SelectedPort)
		config = BoardsConfig{SelectedBoard: config.SelectedBoard}
		r.doSetConfig(config)
		if err := r.saveState(ctx); err != nil {
			errs = append(errs, err)
		}
		r.fireConfigChanged()
	}

	next := make([]AvailableBoard, 0, len(ports)+1)
	for _, port := range ports {
		if !port.IsBoardPort() {
			continue
		}
		boardPort := port
		state := StateIncomplete
		var board *Board
		if attachedBoard, ok := findAttached(attached, boardPort); ok {
			b := attachedBoard.Board
			board = &b
			state = StateRecognized
		} else {
			last, ok, err := r.lastSelectedBoardOnPort(ctx, boardPort)
			if err != nil {
				errs = append(errs, err)
			} else if ok {
				board = &last
				state = StateGuessed
			}
		}
		if board == nil {
			next = append(next, AvailableBoard{
				Board: Board{Name: UnknownBoardName},
				State: state,
				Port:  &boardPort,
			})
			continue
		}
		next = append(next, AvailableBoard{
			Board:    *board,
			State:    state,
			Selected: config.SameAs(*board, &boardPort),
			Port:     &boardPort,
		})
	}

	// Keep the current selection visible even if nothing confirms it.
	if config.SelectedBoard != nil && !anySelected(next) {
		next = append(next, AvailableBoard{
			Board:    *config.SelectedBoard,
			State:    StateIncomplete,
			Selected: true,
			Port:     copyPort(config.SelectedPort),
		})
	}

	sort.SliceStable(next, func(i, j int) bool {
		return CompareAvailable(next[i], next[j]) < 0
	})

	if availableChanged(current, next) {
		r.mu.Lock()
		r.available = next
		r.mu.Unlock()
		r.fireAvailableChanged(next)
	}
	return errors.Join(errs...)
}

// tryReconnect adopts the latest valid config when the current one cannot be
// uploaded to. An exact board+port match wins; otherwise the same board on
// another port is accepted, since boards often re-enumerate on a new port
// after an upload.
func (r *Reconciler) tryReconnect(ctx context.Context) (bool, error) {
	r.mu.RLock()
	config := r.config.Clone()
	var latestValid BoardsConfig
	hasValid := r.latestValid != nil
	if hasValid {
		latestValid = r.latestValid.Clone()
	}
	available := cloneAvailable(r.available)
	r.mu.RUnlock()

	if !hasValid || !CanUploadTo(latestValid) || CanUploadTo(config) {
		return false, nil
	}
	want := *latestValid.SelectedBoard

	for _, board := range available {
		if board.State == StateIncomplete {
			continue
		}
		if board.FQBN == want.FQBN && board.Name == want.Name && samePort(latestValid.SelectedPort, board.Port) {
			r.logger.Printf("Reconnecting to %s on %s", want, latestValid.SelectedPort)
			return true, r.setConfigLocked(ctx, latestValid)
		}
	}
	for _, board := range available {
		if board.State == StateIncomplete {
			continue
		}
		if board.FQBN == want.FQBN && board.Name == want.Name {
			r.logger.Printf("Reconnecting to %s on new port %s", want, board.Port)
			return true, r.setConfigLocked(ctx, BoardsConfig{
				SelectedBoard: latestValid.SelectedBoard,
				SelectedPort:  copyPort(board.Port),
			})
		}
	}
	return false, nil
}

func (r *Reconciler) lastSelectedBoardOnPort(ctx context.Context, port Port) (Board, bool, error) {
	var board Board
	found, err := r.store.GetData(ctx, LastSelectedBoardKey(port), &board)
	if err != nil {
		return Board{}, false, fmt.Errorf("failed to load last selected board on %s: %w", port.Key(), err)
	}
	return board, found, nil
}

func (r *Reconciler) fireConfigChanged() {
	config := r.BoardsConfig()
	r.listenersMu.Lock()
	listeners := make([]func(BoardsConfig), 0, len(r.configListeners))
	for _, fn := range r.configListeners {
		listeners = append(listeners, fn)
	}
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(config.Clone())
	}
}

func (r *Reconciler) fireAvailableChanged(available []AvailableBoard) {
	r.listenersMu.Lock()
	listeners := make([]func([]AvailableBoard), 0, len(r.boardsListeners))
	for _, fn := range r.boardsListeners {
		listeners = append(listeners, fn)
	}
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(cloneAvailable(available))
	}
}

func availableChanged(current, next []AvailableBoard) bool {
	if len(current) != len(next) {
		return true
	}
	for i := range next {
		if CompareAvailable(current[i], next[i]) != 0 {
			return true
		}
	}
	return false
}

func findAttached(attached []AttachedBoard, port Port) (AttachedBoard, bool) {
	for _, board := range attached {
		if board.Port != nil && board.Port.SameAs(port) {
			return board, true
		}
	}
	return AttachedBoard{}, false
}

func containsPort(ports []Port, port Port) bool {
	for _, p := range ports {
		if p.SameAs(port) {
			return true
		}
	}
	return false
}

func anySelected(available []AvailableBoard) bool {
	for _, board := range available {
		if board.Selected {
			return true
		}
	}
	return false
}

func cloneAvailable(in []AvailableBoard) []AvailableBoard {
	if in == nil {
		return nil
	}
	out := make([]AvailableBoard, len(in))
	for i, board := range in {
		board.Port = copyPort(board.Port)
		out[i] = board
	}
	return out
}
