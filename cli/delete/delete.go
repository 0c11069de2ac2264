package delete

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/pkg/errors"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "delete JOB",
		Short: "Delete an upgrade job and its pod",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(cfg, args[0]); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}
}

func run(cfg config.Config, name string) error {
	backend, err := cfg.Backend()
	if err != nil {
		return err
	}

	if err := backend.DeleteJob(context.Background(), name); err != nil {
		return err
	}
	fmt.Printf("Deleted upgrade job %s.\n", name)
	return nil
}
