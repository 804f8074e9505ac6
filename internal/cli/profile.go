package cli

import (
	"fmt"

	"github.com/lukasbauer/voxquery/internal/profile"
	"github.com/spf13/cobra"
)

func newProfileCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or reset the audio profile identifier",
		Long: `The audio profile identifier lets the server adapt to one speaker. It is
created on first use and kept in the profile file (VOX_PROFILE_PATH).`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the audio profile identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := profile.NewFileStore(rt.cfg.ProfilePath)
			id, err := store.EnsureID()
			if err != nil {
				return err
			}
			return rt.printProfile(cmd, store, id)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Replace the audio profile identifier with a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := profile.NewFileStore(rt.cfg.ProfilePath)
			id, err := store.Reset()
			if err != nil {
				return err
			}
			return rt.printProfile(cmd, store, id)
		},
	})
	return cmd
}

func (rt *runtime) printProfile(cmd *cobra.Command, store *profile.FileStore, id string) error {
	if rt.jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]string{"audioProfileId": id, "path": store.Path()})
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
