package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/leanprover/radar/pkg/dashboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard gateway",
	Long: `Start the JSON dashboard gateway. It proxies the radar server through
the query cache, classifies comparisons and, when enabled, runs the
significance indexer in the background.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Read a password from stdin and print its bcrypt hash",
	Long:  `Print a bcrypt hash suitable for dashboard.basic.users[].password_hash.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}

		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(hash))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, hashPasswordCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.ValidateDashboard(); err != nil {
		return fmt.Errorf("validating dashboard config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	q := newQueries(cfg)
	defer q.Cache().Stop()

	srv := dashboard.NewServer(log, &cfg.Dashboard, &cfg.Indexing, q)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down dashboard")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping dashboard: %w", err)
	}

	return nil
}
