package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/pkg/dashboard"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// Flags select the mount pods to upgrade. They're shared with the upgrade
// command.
type Flags struct {
	Node        string
	UniqueID    string
	Worker      int
	IgnoreError bool
	Recreate    bool
}

// Register adds the flags to the command.
func (f *Flags) Register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Node, "node", "",
		"Only upgrade mount pods on this node.")
	cmd.Flags().StringVar(&f.UniqueID, "unique-id", "",
		"Only upgrade mount pods of the volume with this unique ID.")
	cmd.Flags().IntVarP(&f.Worker, "worker", "w", 1,
		fmt.Sprintf("The number of mount pods upgraded in parallel (at most %d).", upgrade.MaxParallel))
	cmd.Flags().BoolVar(&f.IgnoreError, "ignore-error", false,
		"Keep upgrading the remaining pods when a pod fails.")
	cmd.Flags().BoolVar(&f.Recreate, "recreate", false,
		"Recreate mount pods instead of upgrading them in place.")
}

// Options converts the flags into a plan request.
func (f Flags) Options() (dashboard.PlanOptions, error) {
	if f.Worker < 1 || f.Worker > upgrade.MaxParallel {
		return dashboard.PlanOptions{}, errors.NewFriendlyError(
			"--worker must be between 1 and %d, got %d", upgrade.MaxParallel, f.Worker)
	}
	return dashboard.PlanOptions{
		Node:        f.Node,
		UniqueID:    f.UniqueID,
		Worker:      f.Worker,
		IgnoreError: f.IgnoreError,
		Recreate:    f.Recreate,
	}, nil
}

func New() *cobra.Command {
	var flags Flags
	var output string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which mount pods would be upgraded, and in which waves",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(cfg, flags, output); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}
	flags.Register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "",
		"Output format. One of: yaml, json. Prints a table by default.")
	return cmd
}

func run(cfg config.Config, flags Flags, output string) error {
	opts, err := flags.Options()
	if err != nil {
		return err
	}

	client, err := cfg.Dashboard()
	if err != nil {
		return err
	}

	plan, err := Get(context.Background(), client, opts)
	if err != nil {
		return err
	}
	return Print(os.Stdout, plan, output)
}

// Get computes the plan, showing a spinner while the dashboard works.
func Get(ctx context.Context, client *dashboard.Client, opts dashboard.PlanOptions) (upgrade.Plan, error) {
	pp := util.NewProgressPrinter(os.Stderr, "Computing upgrade plan")
	go pp.Run()
	plan, err := client.GetPlan(ctx, opts)
	pp.Stop()
	if err != nil {
		return upgrade.Plan{}, err
	}

	if err := plan.Validate(); err != nil {
		return upgrade.Plan{}, errors.WithContext("invalid plan", err)
	}
	return plan, nil
}

// Print writes the plan in the given format.
func Print(out io.Writer, plan upgrade.Plan, format string) error {
	switch format {
	case "json":
		planBytes, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return errors.WithContext("marshal plan", err)
		}
		fmt.Fprintln(out, string(planBytes))
		return nil
	case "yaml":
		planBytes, err := yaml.Marshal(plan)
		if err != nil {
			return errors.WithContext("marshal plan", err)
		}
		fmt.Fprint(out, string(planBytes))
		return nil
	case "":
	default:
		return errors.NewFriendlyError("Unknown output format %q. It must be yaml or json.", format)
	}

	if plan.TotalTargets() == 0 {
		fmt.Fprintln(out, "All mount pods are up to date.")
		return nil
	}

	fmt.Fprintf(out, "%d mount pods in %d waves, %d at a time.\n",
		plan.TotalTargets(), plan.Waves(), plan.Parallel)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "WAVE\tPOD\tNODE\tCSI NODE")
	for i, wave := range plan.Batches {
		for _, pod := range wave {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, pod.Name, pod.Node, pod.CSINodePod)
		}
	}
	return nil
}
