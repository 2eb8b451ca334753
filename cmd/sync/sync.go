package sync

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	engine "github.com/destacey/calsync/pkg/sync"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local calendar with Microsoft 365",
		Long: "Sync the local calendar with Microsoft 365.\n" +
			"The first run fetches the whole configured date range. Later runs\n" +
			"only fetch changes, unless --full is given.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(full); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&full, "full", false,
		"Refetch the whole date range instead of only changes")
	return cmd
}

func run(full bool) error {
	userConfig, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	st, err := util.GetStore(userConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := util.GetEngine(st, userConfig)
	if err != nil {
		return err
	}

	done := make(chan engine.Result, 1)
	eng.SetCallbacks(printProgress, func(res engine.Result) {
		done <- res
	})

	if err := eng.Start(full); err != nil {
		if errors.Is(err, errors.ErrOffline) {
			return errors.NewFriendlyError(
				"Microsoft Graph is unreachable.\n" +
					"Check your network connection and try again.")
		}
		return err
	}

	// Ctrl-C requests a graceful stop at the next page boundary rather than
	// killing the process mid run.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println("\nStopping after the current page...")
		if err := eng.Cancel(); err != nil {
			log.WithError(err).Debug("Failed to cancel sync")
		}
	}()

	return printResult(<-done)
}

func printProgress(p engine.Progress) {
	if p.Total > 0 {
		fmt.Printf("%s %s (%d/%d)\n", stageLabel(p.Stage), p.Message,
			p.Completed, p.Total)
		return
	}
	fmt.Printf("%s %s\n", stageLabel(p.Stage), p.Message)
}

func stageLabel(stage engine.Stage) string {
	label := fmt.Sprintf("[%s]", stage)
	switch stage {
	case engine.StageFetching:
		return goterm.Color(label, goterm.CYAN)
	case engine.StageProcessing:
		return goterm.Color(label, goterm.YELLOW)
	case engine.StageSaving, engine.StageCleaning:
		return goterm.Color(label, goterm.BLUE)
	default:
		return label
	}
}

func printResult(res engine.Result) error {
	switch {
	case res.Cancelled:
		fmt.Println(goterm.Color("Sync cancelled.", goterm.YELLOW))
	case res.Success:
		fmt.Println(goterm.Color("Sync completed.", goterm.GREEN))
	default:
		fmt.Println(goterm.Color("Sync failed: "+res.Message, goterm.RED))
	}

	fmt.Printf("  mode: %s\n", res.Mode)
	fmt.Printf("  fetched %d, created %d, updated %d, deleted %d\n",
		res.Stats.Fetched, res.Stats.Created, res.Stats.Updated,
		res.Stats.Deleted)

	for _, msg := range res.Errors {
		fmt.Println(goterm.Color("  error: "+msg, goterm.RED))
	}

	if !res.Success && !res.Cancelled {
		return errors.New("sync failed")
	}
	return nil
}
