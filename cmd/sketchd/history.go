package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sketchd/internal/store"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history [sketch]",
	GroupID: "advanced",
	Short:   "Show the sync journal",
	Long: `Show recent sketch syncs, newest first.

--since accepts a duration ("36h"), a date ("2026-10-01") or plain English
("yesterday", "last monday", "3 days ago").`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			return err
		}

		filter := store.RunFilter{Limit: limit}
		if len(args) == 1 {
			filter.Sketch = args[0]
		}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			filter.Since = t
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if output != outputText {
			return printStructured(output, runs)
		}
		printRuns(runs)
		return nil
	},
}

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince turns a duration, a date or a natural language expression into
// a point in time relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	result, err := sinceParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("cannot understand --since %q", s)
	}
	return result.Time, nil
}

func printRuns(runs []store.Run) {
	if len(runs) == 0 {
		fmt.Println("No syncs recorded")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		mark := ui.RenderPass(ui.IconOK)
		detail := fmt.Sprintf("+%d ↑%d -%d/-%d", run.Pulled, run.Pushed, run.DeletedLocal, run.DeletedRemote)
		if run.Conflicts > 0 {
			detail += fmt.Sprintf(" %d conflicts", run.Conflicts)
		}
		if run.Failed() {
			mark = ui.RenderFail(ui.IconFail)
			detail = ui.RenderFail(run.Error)
		}
		rows = append(rows, []string{
			mark,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Sketch,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
			detail,
		})
	}
	fmt.Print(ui.Table([]string{" ", "STARTED", "SKETCH", "TOOK", "CHANGES"}, rows))
}

func init() {
	historyCmd.Flags().String("since", "", "only syncs started after this time")
	historyCmd.Flags().IntP("limit", "n", 50, "maximum number of syncs (0 for all)")
	historyCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(historyCmd)
}
