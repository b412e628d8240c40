package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	State       string `json:"state"`
	Account     string `json:"account,omitempty"`
	DownloadDir string `json:"download_dir"`
	GrantStore  string `json:"grant_store"`
	Grants      int    `json:"grants"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a OneDrive account is signed in",
		RunE:  runStatus,
	}

	cmd.Flags().Bool("json", false, "output in JSON format")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	a, err := startApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.quiet = true

	if err := a.checkLogin(ctx); err != nil {
		return err
	}

	grants, err := a.store.List(ctx)
	if err != nil {
		a.logger.Warn("listing grants", slog.String("error", err.Error()))
	}

	out := statusOutput{
		State:       a.session.State().String(),
		Account:     a.session.Account(),
		DownloadDir: a.cfg.Download.DownloadDir,
		GrantStore:  a.cfg.Grants.Store,
		Grants:      len(grants),
	}

	if jsonOut {
		return printStatusJSON(os.Stdout, out)
	}

	printStatusText(os.Stdout, out)

	return nil
}

func printStatusJSON(w io.Writer, out statusOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, out statusOutput) {
	account := out.Account
	if account == "" {
		account = "-"
	}

	fmt.Fprintf(w, "State:         %s\n", out.State)
	fmt.Fprintf(w, "Account:       %s\n", account)
	fmt.Fprintf(w, "Download dir:  %s\n", out.DownloadDir)
	fmt.Fprintf(w, "Grants:        %d (%s)\n", out.Grants, out.GrantStore)
}
