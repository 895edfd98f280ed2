package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/prefs"
	"github.com/leanprover/radar/pkg/query"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	noColor  bool
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "radar",
	Short: "Client for the radar benchmark tracking service",
	Long: `Radar queries a radar benchmark server: repos, commit history,
comparisons with their significant changes, the bench queue and admin
maintenance. It can also serve a JSON dashboard gateway, index
significance summaries and write comparison reports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		if logLevel == "" {
			return nil
		}

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "radar %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, merged in order)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level ("+strings.Join(logLevels(), ", ")+"), overrides global.log_level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// loadConfig loads and validates the configuration. The configured log
// level applies unless --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if logLevel == "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// newQueries builds the server client behind a query cache. Callers stop
// the cache when done.
func newQueries(cfg *config.Config) *client.Queries {
	c := client.New(log, &cfg.Server)

	cache := query.NewCache(log, query.Options{
		GCGrace:   cfg.Cache.GCGraceDuration(),
		StaleTime: cfg.Cache.StaleTimeDuration(),
	})

	return client.NewQueries(c, cache, client.RefetchIntervals{
		Queue:     cfg.Cache.Refetch.QueueDuration(),
		QueueRun:  cfg.Cache.Refetch.QueueRunDuration(),
		GithubBot: cfg.Cache.Refetch.GithubBotDuration(),
	})
}

// openPrefs opens and loads the preferences store. The returned close
// function releases the backend.
func openPrefs(ctx context.Context, cfg *config.Config) (prefs.Store, func(), error) {
	backend, err := prefs.NewBackend(&cfg.Prefs)
	if err != nil {
		return nil, nil, fmt.Errorf("opening prefs: %w", err)
	}

	closeFn := func() {
		if err := backend.Close(); err != nil {
			log.WithError(err).Warn("Failed to close prefs backend")
		}
	}

	store := prefs.NewStore(log, backend)
	if err := store.Load(ctx); err != nil {
		closeFn()

		return nil, nil, fmt.Errorf("loading prefs: %w", err)
	}

	return store, closeFn, nil
}

// resolveRepo returns the repo flag value, falling back to the selected
// repo from the preferences.
func resolveRepo(ctx context.Context, cfg *config.Config, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}

	store, closeFn, err := openPrefs(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeFn()

	repo, ok := store.SelectedRepo().Get()
	if !ok {
		return "", fmt.Errorf("no repo given and none selected (use --repo or `radar select <repo>`)")
	}

	return repo, nil
}

// resolveToken returns the token flag value, falling back to the stored
// admin token.
func resolveToken(ctx context.Context, cfg *config.Config, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}

	store, closeFn, err := openPrefs(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeFn()

	token, ok := store.AdminToken().Get()
	if !ok {
		return "", fmt.Errorf("no admin token given and none stored (use --token or `radar token set`)")
	}

	return token, nil
}

// withQueries runs fn with a configured query layer and stops the cache
// afterwards.
func withQueries(fn func(cfg *config.Config, q *client.Queries) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	q := newQueries(cfg)
	defer q.Cache().Stop()

	return fn(cfg, q)
}
