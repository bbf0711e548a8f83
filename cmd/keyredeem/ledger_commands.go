package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain outcome buckets",
	}
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerStatsCommand(ctx))
	ledgerCmd.AddCommand(newLedgerCleanupCommand(ctx))
	return ledgerCmd
}

func (c *commandContext) withLedger(cmd *cobra.Command, fn func(*ledger.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	l, err := ledger.Open(cfg.Paths.LedgerDir, logger)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var showValues bool

	cmd := &cobra.Command{
		Use:   "list <bucket>",
		Short: "List entries in a bucket (redeemed, already_owned, expired, errored, friend_keys)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ledger.ParseBucket(args[0])
			if err != nil {
				return err
			}
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				entries, err := l.Entries(cmd.Context(), b)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintf(out, "No entries in %s\n", b)
					return nil
				}
				headers := []string{"#", "Gamekey", "Name", "Value"}
				if b == ledger.FriendKeys {
					headers = append(headers, "Reason", "Confidence")
				}
				rows := make([][]string, 0, len(entries))
				for i, e := range entries {
					row := []string{strconv.Itoa(i + 1), e.Gamekey, e.HumanName, displayValue(e.RevealedValue, showValues)}
					if e.Friend != nil {
						row = append(row, e.Friend.Reason, fmt.Sprintf("%.2f", e.Friend.Confidence))
					}
					rows = append(rows, row)
				}
				fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showValues, "show-values", false, "Print revealed key values in full")
	return cmd
}

// displayValue masks all but the last group of a key.
func displayValue(value string, full bool) string {
	switch {
	case value == "":
		return "-"
	case full, value == keys.ExpiredMarker, !keys.ValidFormat(value):
		return value
	default:
		return "XXXXX-XXXXX-" + value[len(value)-5:]
	}
}

func newLedgerStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				counts, err := l.Counts(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(ledger.Buckets)+1)
				total := 0
				for _, b := range ledger.Buckets {
					rows = append(rows, []string{string(b), strconv.Itoa(counts[b])})
					total += counts[b]
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Bucket", "Entries"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newLedgerCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Deduplicate the errored bucket, keeping entries with usable values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				report, err := l.Compact(cmd.Context(), ledger.Errored)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if report.Discarded == 0 {
					fmt.Fprintf(out, "Errored bucket already clean (%d entries)\n", report.Before)
					return nil
				}
				fmt.Fprintf(out, "Removed %d duplicate entries (%d -> %d)\n", report.Discarded, report.Before, report.After)
				fmt.Fprintf(out, "Backup written to %s\n", report.BackupPath)
				return nil
			})
		},
	}
}
