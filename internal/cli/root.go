package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/jobs/cleanup"
	"github.com/ivankudzin/tgaccounts/internal/repo"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

type rootFlags struct {
	configPath string
	driver     string
	sqlitePath string
	dsn        string
}

// NewRootCmd builds the accountsctl command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Maintenance commands for the accounts store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.Path(), "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.driver, "driver", "", "store driver override (memory, sqlite, postgres)")
	root.PersistentFlags().StringVar(&flags.sqlitePath, "sqlite-path", "", "sqlite file override")
	root.PersistentFlags().StringVar(&flags.dsn, "dsn", "", "postgres dsn override")

	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newUsersCmd(flags))
	root.AddCommand(newPurgeCodesCmd(flags))
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", cfg.Store.Driver)
			return nil
		},
	}
}

func newUsersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			users, err := store.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL\tTELEGRAM\tCREATED")
			for _, user := range users {
				chat := "-"
				if user.Linked() {
					chat = fmt.Sprintf("%d", *user.TelegramChatID)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", user.ID, user.Name, user.Email, chat, user.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newPurgeCodesCmd(flags *rootFlags) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge-codes",
		Short: "Delete codes that expired or were used before the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if !cmd.Flags().Changed("retention") {
				retention = cfg.Codes.Retention
			}
			deleted, err := cleanup.NewCodeCleanupJob(store, retention, zap.NewNop()).Purge(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d codes\n", deleted)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 24*time.Hour, "keep codes newer than this")
	return cmd
}

func openStore(ctx context.Context, flags *rootFlags) (config.Config, accounts.Store, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if flags.driver != "" {
		cfg.Store.Driver = flags.driver
	}
	if flags.sqlitePath != "" {
		cfg.Store.SQLitePath = flags.sqlitePath
	}
	if flags.dsn != "" {
		cfg.Postgres.DSN = flags.dsn
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := repo.Open(ctx, cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, store, nil
}
