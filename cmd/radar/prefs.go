package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var selectCmd = &cobra.Command{
	Use:   "select [repo]",
	Short: "Select the repo used when --repo is omitted",
	Long: `Select the repo used when --repo is omitted. Without an argument the
current selection is printed. Use --clear to forget it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSelect,
}

var selectClear bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the stored admin token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the admin token, read from stdin when omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token: %w", err)
			}

			token = strings.TrimSpace(line)
		}

		if token == "" {
			return fmt.Errorf("token must not be empty")
		}

		store, closeFn, err := openPrefs(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.SetAdminToken(cmd.Context(), token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Admin token stored")

		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored admin token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, closeFn, err := openPrefs(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.ClearAdminToken(cmd.Context()); err != nil {
			return fmt.Errorf("clearing token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Admin token cleared")

		return nil
	},
}

func init() {
	selectCmd.Flags().BoolVar(&selectClear, "clear", false, "clear the selection")

	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd)
	rootCmd.AddCommand(selectCmd, tokenCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeFn, err := openPrefs(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()

	switch {
	case selectClear:
		if err := store.SetSelectedRepo(cmd.Context(), ""); err != nil {
			return fmt.Errorf("clearing selection: %w", err)
		}

		fmt.Fprintln(out, "Selection cleared")
	case len(args) == 1:
		// Reject unknown repos before persisting them.
		q := newQueries(cfg)
		defer q.Cache().Stop()

		resp, err := q.Repos(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching repos: %w", err)
		}

		found := false

		for _, repo := range resp.Repos {
			if repo.Name == args[0] {
				found = true

				break
			}
		}

		if !found {
			return fmt.Errorf("unknown repo %q", args[0])
		}

		if err := store.SetSelectedRepo(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("selecting repo: %w", err)
		}

		fmt.Fprintf(out, "Selected %s\n", args[0])
	default:
		repo, ok := store.SelectedRepo().Get()
		if !ok {
			fmt.Fprintln(out, "No repo selected")

			return nil
		}

		fmt.Fprintln(out, repo)
	}

	return nil
}
