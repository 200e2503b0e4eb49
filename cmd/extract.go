package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Print the normalized links a check would visit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			extractor, err := checker.NewExtractor(checker.ExtractorConfig{
				TargetDomains:  cfg.Input.TargetDomains,
				TrackingParams: cfg.Input.TrackingParams,
			})
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if cfg.Run.Input != "" && cfg.Run.Input != "-" {
				// #nosec G304 -- input path comes from the operator.
				f, err := os.Open(cfg.Run.Input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer func() {
					_ = f.Close()
				}()
				in = f
			}

			tasks, err := extractor.Extract(in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tasks {
				_, _ = fmt.Fprintf(out, "%d\t%s\n", t.LineNumber, t.URL)
			}
			return nil
		},
	}
}
