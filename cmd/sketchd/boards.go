package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/sketchd/internal/boards"
	"github.com/mschirtzinger/sketchd/internal/discovery"
	"github.com/mschirtzinger/sketchd/internal/store"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

// boardView is the printable form of an available board.
type boardView struct {
	Name     string `json:"name" yaml:"name"`
	FQBN     string `json:"fqbn,omitempty" yaml:"fqbn,omitempty"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	State    string `json:"state" yaml:"state"`
	Selected bool   `json:"selected" yaml:"selected"`
}

func viewBoard(b boards.AvailableBoard) boardView {
	v := boardView{Name: b.Name, FQBN: b.FQBN, State: b.State.String(), Selected: b.Selected}
	if b.Port != nil {
		v.Port = b.Port.Address
		v.Protocol = b.Port.Protocol
	}
	return v
}

var boardsCmd = &cobra.Command{
	Use:     "boards",
	GroupID: "boards",
	Short:   "Inspect and select the board to build for",
	Long: `Inspect the boards attached to this machine and select the one to build for.

Attached boards come from the discovery service (discovery.url). The board
selection is stored in the state database and shared with the daemon.`,
}

var boardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		wait, _ := cmd.Flags().GetDuration("wait")
		if err := validOutput(output); err != nil {
			return err
		}

		st, r, err := openReconciler(cmd.Context(), wait)
		if err != nil {
			return err
		}
		defer st.Close()

		available := r.AvailableBoards()
		if output != outputText {
			views := make([]boardView, 0, len(available))
			for _, b := range available {
				views = append(views, viewBoard(b))
			}
			return printStructured(output, views)
		}
		printBoards(r.BoardsConfig(), available)
		return nil
	},
}

var boardsSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select the board and port to build for",
	Long: `Select the board and port to build for.

With --board the selection is set directly. Without it, the available boards
are offered on a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("board")
		fqbn, _ := cmd.Flags().GetString("fqbn")
		address, _ := cmd.Flags().GetString("port")
		protocol, _ := cmd.Flags().GetString("protocol")
		wait, _ := cmd.Flags().GetDuration("wait")

		st, r, err := openReconciler(ctx, wait)
		if err != nil {
			return err
		}
		defer st.Close()

		var config boards.BoardsConfig
		switch {
		case name != "":
			config.SelectedBoard = &boards.Board{Name: name, FQBN: fqbn}
			if address != "" {
				config.SelectedPort = &boards.Port{Address: address, Protocol: protocol}
			}
		case interactive():
			picked, err := pickBoard(ctx, r.AvailableBoards())
			if err != nil {
				return err
			}
			config.SelectedBoard = &picked.Board
			config.SelectedPort = picked.Port
		default:
			return errors.New("--board is required when not running on a terminal")
		}

		if err := r.SetBoardsConfig(ctx, config); err != nil {
			return err
		}
		if config.SelectedPort != nil && r.BoardsConfig().SelectedPort == nil {
			fmt.Fprintf(os.Stderr, "%s Port %s is not available; only the board was selected\n",
				ui.RenderWarn(ui.IconWarn), config.SelectedPort)
		}
		fmt.Printf("%s Selected %s\n", ui.RenderPass(ui.IconOK), r.BoardsConfig())
		r.CanUploadTo(r.BoardsConfig(), false)
		return nil
	},
}

var boardsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current board selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		config, err := storedSelection(cmd.Context(), st)
		if err != nil {
			return err
		}
		if output != outputText {
			return printStructured(output, config)
		}
		fmt.Println(config)
		r := newReconciler(st)
		if r.CanVerify(config, false) {
			fmt.Printf("%s Ready to verify\n", ui.RenderPass(ui.IconOK))
		}
		if r.CanUploadTo(config, false) {
			fmt.Printf("%s Ready to upload\n", ui.RenderPass(ui.IconOK))
		}
		return nil
	},
}

var boardsReconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Restore the last uploadable board selection",
	Long: `Look for the board of the last selection that could upload, on its old port
first and then on any port, and select it again. Useful after an upload made
the board come back on a different port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		before, err := storedSelection(ctx, st)
		if err != nil {
			return err
		}
		r := newReconciler(st)
		if err := discoverOnce(ctx, r, wait); err != nil {
			return err
		}
		// Restoring the state already reconnects when it can.
		if err := r.LoadState(ctx); err != nil {
			return err
		}
		changed, err := r.Reconnect(ctx)
		if err != nil {
			return err
		}

		after := r.BoardsConfig()
		if changed || (boards.CanUploadTo(after) && !after.Equal(before)) {
			fmt.Printf("%s Reconnected to %s\n", ui.RenderPass(ui.IconOK), ui.RenderAccent(after.String()))
			return nil
		}
		if boards.CanUploadTo(after) {
			fmt.Printf("%s %s is already selected\n", ui.RenderPass(ui.IconOK), after)
			return nil
		}
		fmt.Printf("%s No board of the last valid selection is attached\n", ui.RenderWarn(ui.IconWarn))
		return nil
	},
}

var boardsWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait until the selected board is available",
	Long: `Block until the selected board (or --board/--fqbn) shows up on the selected
port (or --port), e.g. after a reset into the bootloader.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		name, _ := cmd.Flags().GetString("board")
		fqbn, _ := cmd.Flags().GetString("fqbn")
		address, _ := cmd.Flags().GetString("port")
		protocol, _ := cmd.Flags().GetString("protocol")

		if cfg.Discovery.URL == "" {
			return errors.New("discovery.url is not configured")
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		// The stored selection is read, not restored, so waiting never
		// rewrites it.
		config, err := storedSelection(cmd.Context(), st)
		if err != nil {
			return err
		}
		r := newReconciler(st)
		var board boards.Board
		port := config.SelectedPort
		if config.SelectedBoard != nil {
			board = *config.SelectedBoard
		}
		if name != "" {
			board = boards.Board{Name: name, FQBN: fqbn}
		}
		if address != "" {
			port = &boards.Port{Address: address, Protocol: protocol}
		}
		if board.Name == "" {
			return errors.New("no board selected; pass --board or run 'sketchd boards select'")
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		disc := newDiscoveryClient()
		g.Go(func() error { return r.Run(ctx, disc.Events(ctx)) })
		g.Go(func() error {
			if err := r.WaitUntilAvailable(ctx, board, port, timeout); err != nil {
				return err
			}
			// Found: stop following discovery.
			cancel()
			return nil
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Printf("%s %s is available\n", ui.RenderPass(ui.IconOK), board)
		return nil
	},
}

func newReconciler(st *store.Store) *boards.Reconciler {
	return boards.NewReconciler(st,
		boards.WithLogger(newLogger("[boards] ")),
		boards.WithWarner(func(message string) {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn(ui.IconWarn), message)
		}),
	)
}

// openReconciler opens the state database, applies the first discovery
// snapshot and then restores the board selection. The snapshot comes first
// so a stored port that is still attached is kept.
func openReconciler(ctx context.Context, wait time.Duration) (*store.Store, *boards.Reconciler, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	r := newReconciler(st)
	if err := discoverOnce(ctx, r, wait); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	if err := r.LoadState(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, r, nil
}

// storedSelection returns the last selection the user made.
func storedSelection(ctx context.Context, st boards.KeyValueStore) (boards.BoardsConfig, error) {
	var config boards.BoardsConfig
	if _, err := st.GetData(ctx, boards.KeyLatestBoardsConfig, &config); err != nil {
		return boards.BoardsConfig{}, err
	}
	return config, nil
}

func newDiscoveryClient() *discovery.Client {
	return discovery.NewClient(cfg.Discovery.URL,
		discovery.WithLogger(newLogger("[discovery] ")),
		discovery.WithBackoff(cfg.Discovery.MinBackoff, cfg.Discovery.MaxBackoff),
	)
}

// discoverOnce feeds discovery events to r until the first boards snapshot
// was applied or wait elapses. Without a discovery URL it does nothing.
func discoverOnce(ctx context.Context, r *boards.Reconciler, wait time.Duration) error {
	if cfg.Discovery.URL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := applyUntilSnapshot(ctx, r, newDiscoveryClient().Events(ctx))
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "%s No answer from discovery at %s\n", ui.RenderWarn(ui.IconWarn), cfg.Discovery.URL)
		return nil
	}
	return err
}

// applyUntilSnapshot hands events to r and returns after the first
// boards-changed event.
func applyUntilSnapshot(ctx context.Context, r *boards.Reconciler, events <-chan boards.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			switch event.Kind {
			case boards.EventBoardsChanged:
				return r.HandleBoardsChanged(ctx, event.Snapshot)
			case boards.EventPlatformInstalled:
				if err := r.HandlePlatformInstalled(ctx, event.Package); err != nil {
					return err
				}
			case boards.EventPlatformUninstalled:
				if err := r.HandlePlatformUninstalled(ctx, event.Package); err != nil {
					return err
				}
			}
		}
	}
}

// pickBoard offers the available boards on the terminal.
func pickBoard(ctx context.Context, available []boards.AvailableBoard) (boards.AvailableBoard, error) {
	if len(available) == 0 {
		return boards.AvailableBoard{}, errors.New("no boards available; pass --board to select one anyway")
	}
	options := make([]huh.Option[int], 0, len(available))
	for i, b := range available {
		label := b.Board.String()
		if b.Port != nil {
			label += " on " + b.Port.String()
		}
		options = append(options, huh.NewOption(label, i))
	}
	choice := 0
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().Title("Select a board").Options(options...).Value(&choice),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return boards.AvailableBoard{}, err
	}
	return available[choice], nil
}

func printBoards(config boards.BoardsConfig, available []boards.AvailableBoard) {
	if len(available) == 0 {
		fmt.Println("No boards available")
		fmt.Printf("Selection: %s\n", config)
		return
	}
	rows := make([][]string, 0, len(available))
	for _, b := range available {
		v := viewBoard(b)
		mark := ui.IconNone
		if v.Selected {
			mark = ui.RenderPass(ui.IconSelected)
		}
		state := v.State
		if b.State != boards.StateRecognized {
			state = ui.RenderMuted(state)
		}
		rows = append(rows, []string{mark, v.Name, orDash(v.FQBN), orDash(v.Port), state})
	}
	fmt.Print(ui.Table([]string{" ", "NAME", "FQBN", "PORT", "STATE"}, rows))
}

func orDash(s string) string {
	if s == "" {
		return ui.RenderMuted("-")
	}
	return s
}

func init() {
	for _, c := range []*cobra.Command{boardsListCmd, boardsShowCmd} {
		c.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	}
	for _, c := range []*cobra.Command{boardsListCmd, boardsSelectCmd, boardsReconnectCmd} {
		c.Flags().Duration("wait", 2*time.Second, "how long to wait for the discovery snapshot")
	}
	for _, c := range []*cobra.Command{boardsSelectCmd, boardsWaitCmd} {
		c.Flags().String("board", "", "board name")
		c.Flags().String("fqbn", "", "fully qualified board name")
		c.Flags().String("port", "", "port address, e.g. /dev/ttyACM0")
		c.Flags().String("protocol", "serial", "port protocol")
	}
	boardsWaitCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long (0 waits forever)")

	boardsCmd.AddCommand(boardsListCmd, boardsSelectCmd, boardsShowCmd, boardsReconnectCmd, boardsWaitCmd)
	rootCmd.AddCommand(boardsCmd)
}
