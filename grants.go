package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// grantOutput is one entry of `grants list --json`.
type grantOutput struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Path      string    `json:"path"`
	IssuedAt  time.Time `json:"issued_at"`
}

func newGrantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage references handed to viewers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List issued file references",
		Args:  cobra.NoArgs,
		RunE:  runGrantsList,
	}
	list.Flags().Bool("json", false, "output in JSON format")

	revoke := &cobra.Command{
		Use:   "revoke REF",
		Short: "Revoke a file reference (content URI or grant id)",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrantsRevoke,
	}

	cmd.AddCommand(list, revoke)

	return cmd
}

func runGrantsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	issuer, store, err := openIssuer(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	grants, err := issuer.List(ctx)
	if err != nil {
		return fmt.Errorf("listing grants: %w", err)
	}

	out := make([]grantOutput, 0, len(grants))

	for _, g := range grants {
		ref, refErr := issuer.Reference(g.ID)
		if refErr != nil {
			return refErr
		}

		out = append(out, grantOutput{ID: g.ID, Reference: ref, Path: g.Path, IssuedAt: g.IssuedAt})
	}

	if jsonOut {
		return printGrantsJSON(os.Stdout, out)
	}

	printGrantsText(os.Stdout, out)

	return nil
}

func printGrantsJSON(w io.Writer, out []grantOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding grants: %w", err)
	}

	return nil
}

func printGrantsText(w io.Writer, out []grantOutput) {
	if len(out) == 0 {
		fmt.Fprintln(w, "No grants.")
		return
	}

	rows := make([][]string, 0, len(out))
	for _, g := range out {
		rows = append(rows, []string{g.ID, formatTime(g.IssuedAt.Local()), g.Path})
	}

	printTable(w, []string{"ID", "ISSUED", "PATH"}, rows)
}

func runGrantsRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	issuer, store, err := openIssuer(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := issuer.Revoke(ctx, args[0]); err != nil {
		return fmt.Errorf("revoking %s: %w", args[0], err)
	}

	logger.Info("grant revoked")
	statusf(flagQuiet, "Revoked.\n")

	return nil
}
