package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/pkg/version"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of wavectl",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("wavectl %s\n", version.String())
		},
	}
}
