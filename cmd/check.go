package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkcheck/internal/app"
	"github.com/JakeFAU/linkcheck/internal/config"
	"github.com/JakeFAU/linkcheck/internal/dispatcher"
)

const closeTimeout = 15 * time.Second

// runner is the part of *app.App the check command drives.
type runner interface {
	Run(ctx context.Context) (dispatcher.Report, error)
	Close(ctx context.Context) error
}

// newRunner builds the run. Tests replace it.
var newRunner = func(ctx context.Context, cfg config.Config, opts app.Options) (runner, error) {
	return app.New(ctx, cfg, opts)
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every link in the input file",
		Long: `Logs in with each configured account, visits every extracted link, and
writes working_links_<time>.txt and detailed_results_<time>.json when done.
Links already in the processed log are skipped.`,
		RunE: runCheck,
	}
	flags := cmd.Flags()
	flags.String("accounts", "", "file with one identifier:secret account per line")
	flags.Int("workers", 0, "number of concurrent workers")
	flags.String("output", "", "directory for result files (local storage)")
	flags.Bool("interactive", false, "ask on the terminal when a login hits a challenge")
	flags.String("driver", "", "session driver: headless or http")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r, err := newRunner(cmd.Context(), cfg, app.Options{
		Stdin:  cmd.InOrStdin(),
		Prompt: app.TerminalPrompt(cmd.InOrStdin(), out),
	})
	if err != nil {
		return fmt.Errorf("prepare run: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		_ = r.Close(ctx)
	}()

	report, err := r.Run(cmd.Context())
	if errors.Is(err, dispatcher.ErrNoTasks) {
		_, _ = fmt.Fprintf(out, "Nothing to check: %d links already processed.\n", report.Skipped)
		return nil
	}
	if err != nil {
		return err
	}
	printSummary(out, report)
	return nil
}

func printSummary(w io.Writer, r dispatcher.Report) {
	_, _ = fmt.Fprintf(w, "\nRun %s %s in %s\n", r.RunID, r.Reason, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	_, _ = fmt.Fprintf(w, "  links:        %d (skipped %d, duplicates %d, remaining %d)\n", r.Total, r.Skipped, r.Duplicates, r.Remaining)
	_, _ = fmt.Fprintf(w, "  working:      %d\n", r.Stats.Succeeded)
	_, _ = fmt.Fprintf(w, "  not working:  %d\n", r.Stats.Failed)
	_, _ = fmt.Fprintf(w, "  rate limited: %d\n", r.Stats.RateLimited)
	_, _ = fmt.Fprintf(w, "  errors:       %d\n", r.Stats.Errored)
	_, _ = fmt.Fprintf(w, "  login fails:  %d\n", r.Stats.LoginFailed)
	if r.Artifacts.WorkingLinks != "" {
		_, _ = fmt.Fprintf(w, "  results:      %s, %s\n", r.Artifacts.WorkingLinks, r.Artifacts.Detailed)
	}
}
