// Command bookpipe processes uploaded books and manages the processing queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simp-lee/bookpipe"
	"github.com/simp-lee/bookpipe/config"
	"github.com/simp-lee/bookpipe/queue"
	"github.com/simp-lee/bookpipe/sqlstore"
)

// app holds what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	configPath string
	dbPath     string
	storageDir string
	debug      bool

	cfg       *config.Config
	log       *zap.Logger
	store     *sqlstore.Store
	processor *bookpipe.Processor
	worker    *queue.Worker
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "bookpipe",
		Short:        "Extract, normalize and store uploaded ePub and HTML books",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a TOML config file (default ./"+config.DefaultPath+" if present)")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path")
	flags.StringVar(&a.storageDir, "storage", "", "base directory for per-book storage")
	flags.BoolVar(&a.debug, "debug", false, "enable development logging")

	root.AddCommand(
		a.processCommand(),
		a.showCommand(),
		a.catalogCommand(),
		a.queueCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabasePath = a.dbPath
	}
	if flags.Changed("storage") {
		cfg.StorageDir = a.storageDir
	}
	if flags.Changed("debug") {
		cfg.Debug = a.debug
	}
	a.cfg = cfg

	if cfg.Debug {
		a.log, err = zap.NewDevelopment()
	} else {
		a.log, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("unable to create logger: %w", err)
	}

	a.store, err = sqlstore.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}

	a.processor = bookpipe.NewProcessor(a.store,
		bookpipe.WithStorageDir(cfg.StorageDir),
		bookpipe.WithWorkers(cfg.Workers),
		bookpipe.WithLogger(a.log),
	)
	a.worker = queue.NewWorker(a.store, a.processor, queue.Config{
		StorageDir: cfg.StorageDir,
		LegacyDir:  cfg.LegacyStorageDir,
		Interval:   cfg.PollInterval.Duration,
		Logger:     a.log.Named("queue"),
	})
	return nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
