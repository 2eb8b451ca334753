package configure

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/store"
)

const dateLayout = "2006-01-02"

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	openStore                 = util.GetStore
)

// New creates a new `configure` command.
func New() *cobra.Command {
	var startStr, endStr string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Show or change the sync date range",
		Long: "Show or change the date range that sync operates on.\n" +
			"With no flags, the current range is printed. Dates are inclusive\n" +
			"and formatted as YYYY-MM-DD.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(startStr, endStr); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&startStr, "start", "",
		"First day of the sync range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "",
		"Last day of the sync range (YYYY-MM-DD)")
	return cmd
}

func run(startStr, endStr string) error {
	userConfig, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	st, err := openStore(userConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	if startStr == "" && endStr == "" {
		return show(st)
	}

	cfg, err := st.GetSyncConfig()
	if err != nil {
		return errors.WithContext(err, "get sync config")
	}

	if cfg, err = merge(cfg, startStr, endStr); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		if _, ok := errors.RootCause(err).(errors.InvalidRangeError); ok {
			return errors.NewFriendlyError(
				"The start date must not be after the end date.")
		}
		return err
	}

	if err := st.SetSyncConfig(cfg); err != nil {
		return errors.WithContext(err, "set sync config")
	}

	fmt.Fprintf(stdout, "Sync range set to %s through %s.\n",
		cfg.StartDate.Format(dateLayout), cfg.EndDate.Format(dateLayout))
	return nil
}

func show(st store.Store) error {
	cfg, err := st.GetSyncConfig()
	if err != nil {
		return errors.WithContext(err, "get sync config")
	}
	if cfg.StartDate.IsZero() && cfg.EndDate.IsZero() {
		fmt.Fprintln(stdout, "No sync range is configured.\n"+
			"Set one with `calsync configure --start YYYY-MM-DD --end YYYY-MM-DD`.")
		return nil
	}

	fmt.Fprintf(stdout, "Sync range: %s through %s\n",
		cfg.StartDate.Format(dateLayout), cfg.EndDate.Format(dateLayout))
	return nil
}

// merge overlays the given flag values onto the stored config. Both bounds
// have to be present afterwards, either from flags or a previous configure.
func merge(cfg store.SyncConfig, startStr, endStr string) (store.SyncConfig, error) {
	if startStr != "" {
		start, err := parseDate(startStr)
		if err != nil {
			return store.SyncConfig{}, err
		}
		cfg.StartDate = start
	}
	if endStr != "" {
		end, err := parseDate(endStr)
		if err != nil {
			return store.SyncConfig{}, err
		}
		cfg.EndDate = end
	}
	return cfg, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.NewFriendlyError(
			"%q isn't a valid date. Use the YYYY-MM-DD format.", s)
	}
	return t.UTC(), nil
}
