package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-open/internal/remote"
	"github.com/tonimelisma/onedrive-open/internal/session"
)

var errNotSignedIn = errors.New("not signed in; run 'onedrive-open login' first")

func newOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Pick a OneDrive file, download it and open it",
		Long: `Pick a file from OneDrive, stage it in the download directory and hand
it to the viewer configured for its content type.

Without --path an interactive picker lists the drive. --type narrows the
offered content types (repeatable); --folder sets where the picker starts.`,
		Args: cobra.NoArgs,
		RunE: runOpen,
	}

	cmd.Flags().String("path", "", "remote path of the file to open, skipping the picker")
	cmd.Flags().StringSlice("type", nil, "accepted MIME type (repeatable)")
	cmd.Flags().String("folder", "", "remote folder the picker starts in")

	return cmd
}

func runOpen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	remotePath, _ := cmd.Flags().GetString("path")
	types, _ := cmd.Flags().GetStringSlice("type")
	folder, _ := cmd.Flags().GetString("folder")

	a, err := startApp(ctx, strings.TrimSpace(remotePath), pickFilter(types, folder, resolvedCfg.Service.StartFolder))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.checkLogin(ctx); err != nil {
		return err
	}

	if a.session.State() != session.LoggedIn {
		return errNotSignedIn
	}

	notices, err := a.run(ctx, a.orch.RequestTransfer)
	if err != nil {
		return err
	}

	return firstError(notices)
}

// pickFilter builds the pick filter from flags over the configured start
// folder. Returns nil when nothing narrows the service defaults.
func pickFilter(types []string, folder, defaultFolder string) *remote.Filter {
	if folder == "" {
		folder = defaultFolder
	}

	if len(types) == 0 && folder == "" {
		return nil
	}

	return &remote.Filter{ContentTypes: types, StartFolder: folder}
}
