package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"keyredeem/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var auto bool
	var skipFriends bool
	var noReconcile bool
	var refresh bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reveal and redeem every unredeemed key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			r, err := ctx.runner(cmd)
			if err != nil {
				return err
			}

			opts := runner.Options{
				Auto:           auto || !interactive(),
				SkipFriendKeys: cfg.FriendKeys.Enabled,
				NoReconcile:    noReconcile,
				Refresh:        refresh,
			}
			if cmd.Flags().Changed("skip-friend-keys") {
				opts.SkipFriendKeys = skipFriends
			}
			if !opts.Auto {
				opts.Confirmer = newPromptConfirmer()
			}

			rep, runErr := r.Run(cmd.Context(), opts)
			out := cmd.OutOrStdout()
			if rep.Records > 0 || rep.Redemption.Outcomes != nil {
				fmt.Fprintln(out, renderRunSummary(rep, shouldColorize(out)))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Never prompt; uncertain friend keys and fuzzy ownership matches are skipped")
	cmd.Flags().BoolVar(&skipFriends, "skip-friend-keys", true, "File detected friend/co-op keys instead of redeeming them (default from friend_keys.enabled)")
	cmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "Do not retry errored keys after the run")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached order list and owned catalog")
	return cmd
}

// interactive reports whether prompts can be shown.
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}
