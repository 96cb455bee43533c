package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/sketchd/internal/config"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

var (
	cfgFile  string
	noPrompt bool

	v   = viper.New()
	cfg config.Config

	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "sketchd",
	Short: "Sync an Arduino sketchbook with the cloud sketch store",
	Long: `sketchd keeps the sketches in your local sketchbook in sync with the
cloud sketch store and tracks the boards attached to this machine.

Only sketches with a marker file are synced. Link a local sketch with
'sketchd add <dir>' or fetch a remote one with 'sketchd clone <name>'.

Configuration is read from ~/.sketchd/config.toml and SKETCHD_* environment
variables. Run 'sketchd config init' to write the defaults.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "boards", Title: "Board Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.sketchd/config.toml)")
	flags.String("sketchbook", "", "sketchbook directory")
	flags.String("state-db", "", "state database path")
	flags.BoolVar(&noPrompt, "no-prompt", false, "never ask; decisions that need an answer fail instead")

	_ = v.BindPFlag("sketchbook", flags.Lookup("sketchbook"))
	_ = v.BindPFlag("state_db", flags.Lookup("state-db"))
}

// loadConfig resolves the configuration and sets up logging for every
// command.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.Init(v, cfgFile); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	logOutput = newLogOutput(cfg.Log)
	ui.Init(os.Stdout)
	return nil
}

// newLogOutput returns stderr, or a rotating file when one is configured.
func newLogOutput(lc config.LogConfig) io.Writer {
	if lc.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(logOutput, prefix, log.LstdFlags)
}

// interactive reports whether decisions can be asked on the terminal.
func interactive() bool {
	return !noPrompt && ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)
}
