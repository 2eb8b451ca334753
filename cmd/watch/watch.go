package watch

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	engine "github.com/destacey/calsync/pkg/sync"
)

// New creates a new `watch` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the local calendar in sync on a schedule",
		Long: "Keep the local calendar in sync by running a differential sync\n" +
			"on the cron schedule from the user config. Runs until interrupted.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
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
	eng.SetCallbacks(nil, logResult)

	c := cron.New()
	if _, err := c.AddFunc(userConfig.Schedule, func() { runSync(eng) }); err != nil {
		return errors.NewFriendlyError(
			"%q isn't a valid cron schedule: %s", userConfig.Schedule, err)
	}

	log.WithField("schedule", userConfig.Schedule).Info("Watching for changes")

	// Sync right away instead of waiting for the first tick.
	runSync(eng)

	c.Start()
	defer c.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	log.Info("Shutting down")
	if err := eng.Cancel(); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		log.WithError(err).Warn("Failed to cancel running sync")
	}
	return nil
}

func runSync(eng *engine.Engine) {
	err := eng.Start(false)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrAlreadyRunning):
		log.Warn("Previous sync is still running, skipping this tick")
	case errors.Is(err, errors.ErrOffline):
		log.Warn("Remote calendar is unreachable, skipping this tick")
	default:
		log.WithError(err).Error("Failed to start sync")
	}
}

func logResult(res engine.Result) {
	entry := log.WithField("mode", res.Mode).
		WithField("created", res.Stats.Created).
		WithField("updated", res.Stats.Updated).
		WithField("deleted", res.Stats.Deleted)

	switch {
	case res.Cancelled:
		entry.Info("Sync cancelled")
	case res.Success:
		entry.Info("Sync completed")
	default:
		entry.WithField("error", res.Message).Error("Sync failed")
	}
}
