package update

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/update"
	"github.com/destacey/calsync/pkg/version"
)

// New creates a new `update` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Check whether a newer release of calsync is available",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	release, err := update.CheckLatest()
	if err != nil {
		return errors.WithContext(err, "check for updates")
	}

	fmt.Printf("Your calsync is at version: %s\n", version.Version)
	fmt.Printf("The latest release is: %s\n\n", release.Version)

	switch update.Compare(version.Version, release.Version) {
	case update.Behind:
		fmt.Printf("A newer release is available. Download it at:\n\t%s\n",
			release.URL)
	case update.Ahead:
		fmt.Println("You are running a development build ahead of the " +
			"latest release.")
	case update.Unknown:
		fmt.Println("This binary wasn't built from a release, so the " +
			"versions can't be compared.")
	default:
		fmt.Println("You are up to date.")
	}
	return nil
}
