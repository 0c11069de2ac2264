package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/action"
	"github.com/kelda/wavectl/cli/delete"
	"github.com/kelda/wavectl/cli/jobs"
	"github.com/kelda/wavectl/cli/logs"
	"github.com/kelda/wavectl/cli/plan"
	"github.com/kelda/wavectl/cli/upgrade"
	"github.com/kelda/wavectl/cli/version"
	"github.com/kelda/wavectl/cli/watch"
)

func main() {
	// By default, the random number generator is seeded to 1, so the
	// generated job names would be the same on every run.
	rand.Seed(time.Now().UnixNano())

	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "wavectl",
		Short: "Upgrade JuiceFS mount pods in waves",

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info",
		"Set the logging level (debug, info, warn, error).")

	rootCmd.AddCommand(
		action.NewPause(),
		action.NewResume(),
		action.NewStop(),
		delete.New(),
		jobs.New(),
		logs.New(),
		plan.New(),
		upgrade.New(),
		version.New(),
		watch.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
