package export

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/ics"
	"github.com/destacey/calsync/pkg/store"
)

const dateLayout = "2006-01-02"

// Mocked for unit testing.
var fs = afero.NewOsFs()

// New creates a new `export` command.
func New() *cobra.Command {
	var out, fromStr, toStr string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local calendar as an iCalendar (.ics) file",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(out, fromStr, toStr); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "calendar.ics",
		"Path of the file to write")
	cmd.Flags().StringVar(&fromStr, "from", "",
		"First day to export (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "",
		"Last day to export (YYYY-MM-DD)")
	return cmd
}

func run(out, fromStr, toStr string) error {
	userConfig, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	st, err := util.GetStore(userConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	from, to, err := resolveRange(st, fromStr, toStr)
	if err != nil {
		return err
	}

	events, err := st.ListEvents(from, to)
	if err != nil {
		return errors.WithContext(err, "list events")
	}

	payload := ics.Export("calsync", events, time.Now())
	if err := afero.WriteFile(fs, out, []byte(payload), 0644); err != nil {
		return errors.WithContext(err, "write file")
	}

	fmt.Printf("Exported %d event(s) to %s\n", len(events), out)
	return nil
}

func resolveRange(st store.Store, fromStr, toStr string) (time.Time, time.Time, error) {
	cfg, err := st.GetSyncConfig()
	if err != nil {
		return time.Time{}, time.Time{}, errors.WithContext(err, "get sync config")
	}

	from, to := cfg.StartDate, cfg.EndDate
	if fromStr != "" {
		if from, err = parseDate(fromStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toStr != "" {
		if to, err = parseDate(toStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, errors.NewFriendlyError(
			"No sync range is configured, so --from and --to are required.")
	}

	return from, to.AddDate(0, 0, 1).Add(-time.Second), nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.NewFriendlyError(
			"%q isn't a valid date. Use the YYYY-MM-DD format.", s)
	}
	return t, nil
}
