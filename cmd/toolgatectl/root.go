package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"toolgate/internal/app"
	"toolgate/internal/infra/registry"
)

type cliOptions struct {
	configPath string
	dbPath     string
	userID     string
	jsonOutput bool
	ephemeral  bool
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		configPath: "catalog.yaml",
		dbPath:     "toolgate.db",
		userID:     os.Getenv("TOOLGATE_USER"),
		logger:     zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "toolgatectl",
		Short: "CLI client for a toolgate catalog",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyRootFlagBindings(cmd, &opts)
			return validateUserFlag(&opts)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to connection catalog file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", opts.dbPath, "path to credential database")
	root.PersistentFlags().StringVar(&opts.userID, "user", opts.userID, "user identity to act as (or TOOLGATE_USER)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")
	root.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep credentials in memory instead of the database")

	root.AddCommand(
		newCatalogCmd(&opts),
		newStatusCmd(&opts),
		newCallCmd(&opts),
	)

	return root
}

func applyRootFlagBindings(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			opts.configPath, _ = flags.GetString("config")
		case "db":
			opts.dbPath, _ = flags.GetString("db")
		case "user":
			opts.userID, _ = flags.GetString("user")
		case "json":
			opts.jsonOutput, _ = flags.GetBool("json")
		case "ephemeral":
			opts.ephemeral, _ = flags.GetBool("ephemeral")
		}
	})
}

func validateUserFlag(opts *cliOptions) error {
	if strings.TrimSpace(opts.userID) == "" {
		return errors.New("--user is required (or set TOOLGATE_USER)")
	}
	return nil
}

// buildGateway loads the catalog and wires a one-shot gateway for a single
// CLI invocation. Metrics stay off; the caller must Close the gateway.
func buildGateway(opts *cliOptions) (*app.Gateway, error) {
	catalog, err := registry.NewLoader(opts.logger).Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	dbPath := opts.dbPath
	if opts.ephemeral {
		dbPath = ""
	}
	return app.BuildGateway(catalog, app.GatewayOptions{
		DBPath:         dbPath,
		DisableMetrics: true,
	}, opts.logger)
}
