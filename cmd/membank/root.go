package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/config"
	"github.com/HendryAvila/membank/internal/server"
)

// app carries state shared by every command: flags, the loaded config
// and the logger. It is populated by the root PersistentPreRunE.
type app struct {
	cfgPath string
	dir     string
	debug   bool
	noUsage bool

	cfg    *config.Config
	log    *zap.Logger
	styles styles
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "membank",
		Short: "Memory-bank context server for AI coding tools",
		Long: `membank serves a directory of markdown memory files to AI coding tools.

Documents reference each other with [[links]] and embed each other with
![[transclusions]]. membank builds the dependency graph between them,
expands transclusions, and selects the content that best fits a task
within a token budget.

The memory bank is the nearest memory-bank/ directory above the working
directory, unless --dir or memory_dir in .membank.yaml says otherwise.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				// stderr cannot always be synced; nothing to do about it.
				_ = a.log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "Config file (default: nearest "+config.FileName+")")
	flags.StringVarP(&a.dir, "dir", "d", "", "Memory bank directory (overrides memory_dir)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging on stderr")
	flags.BoolVar(&a.noUsage, "no-usage", false, "Do not read or record document usage")

	rootCmd.AddCommand(
		a.serveCommand(),
		a.graphCommand(),
		a.resolveCommand(),
		a.readCommand(),
		a.validateCommand(),
		a.optimizeCommand(),
		a.listCommand(),
		a.statsCommand(),
		a.configCommand(),
		versionCommand(),
	)
	return rootCmd
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	path := a.cfgPath
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.dir != "" {
		cfg.MemoryDir = a.dir
	}
	if a.noUsage {
		cfg.Usage.Enabled = false
	}

	log, err := cfg.NewLogger(a.debug)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.cfg = cfg
	a.log = log.With(zap.String("command", cmd.Name()))
	a.styles = newStyles(cmd.OutOrStdout())
	return nil
}

// openBank opens the memory bank for a one-shot command. The caller must
// Close it.
func (a *app) openBank() (*server.Bank, error) {
	return server.Open(a.cfg, a.log, false)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "membank v%s\n", server.Version)
		},
	}
}
