package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leanprover/radar/pkg/config"
)

var configShowSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging every --config file and the
RADAR_* environment overrides. Secrets are masked unless --show-secrets
is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if !configShowSecrets {
			cfg = maskSecrets(cfg)
		}

		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configCmd.Flags().BoolVar(&configShowSecrets, "show-secrets", false, "print secrets in clear text")

	rootCmd.AddCommand(configCmd)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return enc.Close()
}

const masked = "********"

// maskSecrets returns a copy of cfg with tokens and passwords replaced.
func maskSecrets(cfg *config.Config) *config.Config {
	out := *cfg

	mask := func(s string) string {
		if s == "" {
			return ""
		}

		return masked
	}

	out.Prefs.Redis.Password = mask(out.Prefs.Redis.Password)
	out.Dashboard.AdminToken = mask(out.Dashboard.AdminToken)
	out.Indexing.Database.Postgres.Password = mask(out.Indexing.Database.Postgres.Password)

	if len(cfg.Dashboard.Basic.Users) > 0 {
		out.Dashboard.Basic.Users = make([]config.BasicAuthUser, len(cfg.Dashboard.Basic.Users))
		for i, u := range cfg.Dashboard.Basic.Users {
			out.Dashboard.Basic.Users[i] = config.BasicAuthUser{Username: u.Username, PasswordHash: mask(u.PasswordHash)}
		}
	}

	if cfg.Report.S3 != nil {
		s3 := *cfg.Report.S3
		s3.AccessKeyID = mask(s3.AccessKeyID)
		s3.SecretAccessKey = mask(s3.SecretAccessKey)
		out.Report.S3 = &s3
	}

	return &out
}
