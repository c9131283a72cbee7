package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/db"
	"github.com/osteele/pbs-jobs/internal/fetch"
	"github.com/osteele/pbs-jobs/internal/lifecycle"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/pathmap"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

var rootCmd = &cobra.Command{
	Use:   "pbs-jobs",
	Short: "Monitor and manage PBS jobs on several servers",
	Long: `PBS Jobs shows the jobs of several PBS Pro servers in one table.

It connects to each configured server over SSH, collects the job list,
and lets you submit jobs from a mapped drive, kill jobs, and follow
their logs.`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// Execute runs the root command
func Execute() error {
	// If no args provided, check config for default command
	if len(os.Args) == 1 {
		cfg, _, _ := config.Load("")
		if cfg != nil && cfg.DefaultCommand != "" && cfg.DefaultCommand != "help" {
			// Insert the default command as the first argument
			os.Args = append(os.Args, cfg.DefaultCommand)
		}
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./config.yaml, ~/.config/pbs-jobs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads and validates the configuration and sets up logging.
// logFile overrides the configured log destination when non-empty.
func loadConfig(logFile string) (*config.Config, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("%w\nCreate one from config.example.yaml", err)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if logFile == "" {
		logFile = cfg.Log.File
	}
	if err := log.Init(level, logFile); err != nil {
		return nil, err
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	for _, w := range warnings {
		log.Logger().Warn("config: "+w, zap.String("file", path))
	}
	log.Logger().Debug("loaded config", zap.String("file", path), zap.Int("servers", len(cfg.Servers)))
	return cfg, nil
}

// app bundles the services a command needs
type app struct {
	cfg     *config.Config
	exec    ssh.Executor
	db      *sql.DB
	paths   *pathmap.Translator
	fetcher *fetch.Aggregator
	ctl     *lifecycle.Controller
}

// newApp wires the services from the configuration. A database that cannot
// be opened only disables diagnostics and history.
func newApp(logFile string) (*app, error) {
	cfg, err := loadConfig(logFile)
	if err != nil {
		return nil, err
	}

	exec, err := ssh.New(cfg)
	if err != nil {
		return nil, err
	}
	paths, err := pathmap.New(cfg.DriveMapping, cfg.Paths.LinuxBasePath, cfg.RemoteUser())
	if err != nil {
		return nil, fmt.Errorf("drive_mapping: %w", err)
	}

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		log.Logger().Warn("diagnostics database unavailable", zap.String("path", cfg.DBPath()), zap.Error(err))
		database = nil
	}
	recorder := db.Recorder{DB: database}

	fetcher := fetch.New(cfg, exec, recorder)
	return &app{
		cfg:     cfg,
		exec:    exec,
		db:      database,
		paths:   paths,
		fetcher: fetcher,
		ctl:     lifecycle.New(cfg, exec, fetcher, recorder),
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}
