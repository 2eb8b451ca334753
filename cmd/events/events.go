package events

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
	"github.com/destacey/calsync/pkg/store"
)

const dateLayout = "2006-01-02"

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	openStore                 = util.GetStore
)

// New creates a new `events` command.
func New() *cobra.Command {
	var fromStr, toStr, monthStr string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the locally stored calendar events",
		Long: "List the locally stored calendar events.\n" +
			"By default the configured sync range is shown. Use --from/--to\n" +
			"to narrow it, or --month for a calendar grid of one month.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(fromStr, toStr, monthStr); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "",
		"First day to list (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "",
		"Last day to list (YYYY-MM-DD)")
	cmd.Flags().StringVar(&monthStr, "month", "",
		"Show a calendar grid for the given month (YYYY-MM)")
	return cmd
}

func run(fromStr, toStr, monthStr string) error {
	userConfig, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	st, err := openStore(userConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	if monthStr != "" {
		month, err := time.Parse("2006-01", monthStr)
		if err != nil {
			return errors.NewFriendlyError(
				"%q isn't a valid month. Use the YYYY-MM format.", monthStr)
		}
		return printMonth(st, month)
	}

	from, to, err := resolveRange(st, fromStr, toStr)
	if err != nil {
		return err
	}

	events, err := st.ListEvents(from, to)
	if err != nil {
		return errors.WithContext(err, "list events")
	}

	printTable(events)
	return nil
}

// resolveRange figures out the listing window from the flags, falling back to
// the configured sync range.
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

	// Make the end bound inclusive of the whole last day.
	return from, to.AddDate(0, 0, 1).Add(-time.Second), nil
}

func printTable(events []event.Local) {
	if len(events) == 0 {
		fmt.Fprintln(stdout, "No events found.")
		return
	}

	for _, ev := range events {
		fmt.Fprintf(stdout, "%s  %-12s %s%s\n",
			formatWhen(ev), showAsLabel(ev.ShowAs), ev.Title, localOnlyTag(ev))
		if len(ev.Categories) > 0 {
			fmt.Fprintf(stdout, "%26s%s\n", "",
				strings.Join(ev.Categories, ", "))
		}
	}
	fmt.Fprintf(stdout, "\n%d event(s)\n", len(events))
}

func formatWhen(ev event.Local) string {
	if ev.AllDay {
		if ev.Start.Format(dateLayout) == ev.End.Format(dateLayout) {
			return fmt.Sprintf("%s   (all day)", ev.Start.Format(dateLayout))
		}
		return fmt.Sprintf("%s - %s", ev.Start.Format(dateLayout),
			ev.End.Format(dateLayout))
	}
	return fmt.Sprintf("%s - %s", ev.Start.Format("2006-01-02 15:04"),
		ev.End.Format("15:04"))
}

func showAsLabel(showAs event.ShowAs) string {
	label := string(showAs)
	switch showAs {
	case event.ShowAsFree:
		return goterm.Color(label, goterm.GREEN)
	case event.ShowAsTentative:
		return goterm.Color(label, goterm.YELLOW)
	case event.ShowAsBusy:
		return goterm.Color(label, goterm.RED)
	case event.ShowAsOOF, event.ShowAsWorkingElsewhere:
		return goterm.Color(label, goterm.MAGENTA)
	default:
		return label
	}
}

func localOnlyTag(ev event.Local) string {
	if ev.ExternalID == "" {
		return goterm.Color("  [local]", goterm.CYAN)
	}
	return ""
}

// printMonth renders one month as a week-per-row grid with the number of
// events on each day.
func printMonth(st store.Store, month time.Time) error {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	events, err := st.ListEvents(first, next.Add(-time.Second))
	if err != nil {
		return errors.WithContext(err, "list events")
	}

	counts := map[int]int{}
	for _, ev := range events {
		for d := dayOf(ev.Start); !d.After(dayOf(ev.End)); d = d.AddDate(0, 0, 1) {
			if d.Month() == month.Month() && d.Year() == month.Year() {
				counts[d.Day()]++
			}
		}
	}

	fmt.Fprintln(stdout, first.Format("January 2006"))
	fmt.Fprintln(stdout, "Mon     Tue     Wed     Thu     Fri     Sat     Sun")

	// Monday-first column index of the month's first day.
	col := (int(first.Weekday()) + 6) % 7
	fmt.Fprint(stdout, strings.Repeat("        ", col))

	lastDay := next.AddDate(0, 0, -1).Day()
	for day := 1; day <= lastDay; day++ {
		cell := fmt.Sprintf("%2d", day)
		if n := counts[day]; n > 0 {
			count := fmt.Sprintf(" (%d)", n)
			// Pad manually since the color escape codes confuse %-8s.
			pad := 6 - len(count)
			if pad < 0 {
				pad = 0
			}
			cell += goterm.Color(count, goterm.CYAN) + strings.Repeat(" ", pad)
		} else {
			cell += strings.Repeat(" ", 6)
		}
		fmt.Fprint(stdout, cell)

		if col = (col + 1) % 7; col == 0 {
			fmt.Fprintln(stdout)
		}
	}
	if col != 0 {
		fmt.Fprintln(stdout)
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.NewFriendlyError(
			"%q isn't a valid date. Use the YYYY-MM-DD format.", s)
	}
	return t, nil
}
