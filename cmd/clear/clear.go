package clear

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/destacey/calsync/cmd/util"
	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/store"
)

// New creates a new `clear` command.
func New() *cobra.Command {
	var skipConfirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove synced data from the local database",
	}
	cmd.PersistentFlags().BoolVar(&skipConfirm, "yes", false,
		"Skip the confirmation prompt")

	cmd.AddCommand(&cobra.Command{
		Use: "sync",
		Short: "Remove synced events and sync state. " +
			"Locally created events are kept.",
		Run: func(_ *cobra.Command, _ []string) {
			prompt := "Remove all synced events and sync state?"
			action := func(st store.Store) error { return st.ClearSyncData() }
			if err := run(prompt, skipConfirm, action); err != nil {
				util.HandleFatalError(err)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Remove every event and all sync state",
		Run: func(_ *cobra.Command, _ []string) {
			prompt := "Remove ALL events, including ones created locally?"
			action := func(st store.Store) error { return st.ClearAllData() }
			if err := run(prompt, skipConfirm, action); err != nil {
				util.HandleFatalError(err)
			}
		},
	})

	return cmd
}

func run(prompt string, skipConfirm bool, action func(store.Store) error) error {
	if !skipConfirm {
		confirmed, err := util.PromptYesOrNo(prompt)
		if err != nil {
			return errors.WithContext(err, "prompt")
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	userConfig, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	st, err := util.GetStore(userConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := action(st); err != nil {
		return errors.WithContext(err, "clear")
	}

	fmt.Println("Done.")
	return nil
}
