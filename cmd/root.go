package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	clearCmd "github.com/destacey/calsync/cmd/clear"
	"github.com/destacey/calsync/cmd/configure"
	"github.com/destacey/calsync/cmd/events"
	exportCmd "github.com/destacey/calsync/cmd/export"
	syncCmd "github.com/destacey/calsync/cmd/sync"
	updateCmd "github.com/destacey/calsync/cmd/update"
	"github.com/destacey/calsync/cmd/util"
	versionCmd "github.com/destacey/calsync/cmd/version"
	"github.com/destacey/calsync/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "CALSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "calsync",
		Short:        "Mirror a Microsoft 365 calendar into a local database",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		clearCmd.New(),
		configure.New(),
		events.New(),
		exportCmd.New(),
		syncCmd.New(),
		updateCmd.New(),
		versionCmd.New(),
		watch.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
