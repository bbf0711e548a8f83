package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyredeem/internal/keys"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry errored keys that carry a revealed value",
		Long: "Reads the errored bucket, keeps one entry per key preferring a well-formed value, " +
			"and submits each to the registrar again. Keys are never revealed in this mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.runner(cmd)
			if err != nil {
				return err
			}
			summary, err := r.Reconcile(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Errored entries: %d read, %d unique, %d without a usable value\n",
				summary.Read, summary.Unique, summary.Discarded)
			if summary.Attempted > 0 {
				rows := outcomeRows(summary.Outcomes, []keys.Status{
					keys.StatusRedeemed, keys.StatusAlreadyOwned, keys.StatusExpired, keys.StatusErrored,
				})
				fmt.Fprintln(out, renderTable([]string{"Outcome", "Keys"}, rows, []columnAlignment{alignLeft, alignRight}))
			}
			return err
		},
	}
}
