package cli

import (
	"fmt"
	"time"

	"github.com/lukasbauer/voxquery/internal/app"
	"github.com/spf13/cobra"
)

func newTokenCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the session token",
	}
	cmd.AddCommand(newTokenRefreshCmd(rt))
	return cmd
}

func newTokenRefreshCmd(rt *runtime) *cobra.Command {
	var (
		attempts uint
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt.cfg.VADEnabled = false
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tok, err := app.RefreshWithRetry(cmd.Context(), a.Service(), attempts, delay, rt.logger)
			if err != nil {
				return err
			}
			if rt.jsonOutput {
				printJSON(cmd.OutOrStdout(), tok)
				return nil
			}
			okLabel.Fprintln(cmd.OutOrStdout(), "session token refreshed")
			if tok.ExpiresAt != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "expires at %s\n", tok.ExpiresAt)
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&attempts, "attempts", 3, "Maximum refresh attempts")
	cmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "Initial delay between attempts")
	return cmd
}
