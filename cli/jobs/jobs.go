package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

func New() *cobra.Command {
	var opts upgrade.ListOptions
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List upgrade jobs",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(cfg, opts); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().IntVar(&opts.Page, "page", 1, "The page to show, starting at 1.")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "The number of jobs per page.")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Only show jobs whose name contains this string.")
	cmd.Flags().BoolVar(&opts.Ascending, "ascending", false, "Show the oldest jobs first.")
	return cmd
}

func run(cfg config.Config, opts upgrade.ListOptions) error {
	backend, err := cfg.Backend()
	if err != nil {
		return err
	}

	opts = opts.Defaults()
	jobs, total, err := backend.ListJobs(context.Background(), opts)
	if err != nil {
		return err
	}

	if total == 0 {
		fmt.Println("No upgrade jobs.")
		return nil
	}
	printJobs(os.Stdout, jobs, time.Now(), util.IsTerminal())
	fmt.Printf("Page %d of %d (%d jobs).\n", opts.Page, pages(total, opts.PageSize), total)
	return nil
}

func printJobs(out io.Writer, jobs []upgrade.Job, now time.Time, color bool) {
	w := tabwriter.NewWriter(out, 0, 10, 5, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tSTATUS\tSUCCEEDED\tFAILED\tTARGETS\tAGE")
	for _, job := range jobs {
		status, statusColor := util.ServerStatusString(job.Resource)
		if color {
			status = goterm.Color(status, statusColor)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", job.Name, status,
			job.Resource.Succeeded, job.Resource.Failed, job.Plan.TotalTargets(),
			age(now, job.Created))
	}
}

func pages(total, pageSize int) int {
	return (total + pageSize - 1) / pageSize
}

func age(now, created time.Time) string {
	if created.IsZero() {
		return "-"
	}

	d := now.Sub(created)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
