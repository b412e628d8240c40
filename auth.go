package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-open/internal/session"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to OneDrive",
		Long: `Sign in to OneDrive. A saved credential is checked first; if it is
missing or no longer valid, the configured flow (device code or browser)
starts. Press Ctrl-C to cancel.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the saved credential",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := startApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("login started")

	if err := a.checkLogin(ctx); err != nil {
		return err
	}

	if a.session.State() == session.LoggedIn {
		return nil
	}

	notices, err := a.run(ctx, a.orch.RequestLogin)
	if err != nil {
		return err
	}

	return firstError(notices)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := startApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("logout started")

	notices, err := a.run(ctx, func(context.Context) {
		a.orch.RequestLogout()
	})
	if err != nil {
		return err
	}

	return firstError(notices)
}
