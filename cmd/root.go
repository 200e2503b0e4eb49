// Package cmd defines the linkcheck command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkcheck/internal/config"
)

// cfgKeyType is the context key for the loaded configuration.
type cfgKeyType struct{}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "linkcheck",
		Short: "Bulk-check LinkedIn Premium gift links with a pool of accounts.",
		Long: `linkcheck extracts gift links from a text file, checks each one with a
rotating pool of logged-in accounts, and records which links still work.
Progress is saved as it goes, so an interrupted run picks up where it stopped.`,
		SilenceUsage: true,

		// Config is loaded after flags parse so changed flags can override it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./linkcheck.yaml or $HOME/.linkcheck/linkcheck.yaml)")
	cmd.PersistentFlags().String("input", "", `text file containing links ("-" for stdin)`)

	cmd.AddCommand(newCheckCmd(), newExtractCmd(), newVersionCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the context, which stops
// the run after in-flight checks finish.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "linkcheck:", err)
		stop()
		os.Exit(1)
	}
}
