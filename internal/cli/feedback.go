package cli

import (
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/spf13/cobra"
)

func newFeedbackCmd(rt *runtime) *cobra.Command {
	var (
		rating      int
		description string
		durations   model.Durations
	)
	cmd := &cobra.Command{
		Use:   "feedback <query-id>",
		Short: "Send feedback for a completed query",
		Example: `  voxquery feedback 7f1c --rating 5 --description "spot on"
  voxquery feedback 7f1c --vad-ms 820 --complete-ms 1430`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fb model.FeedbackData
			if cmd.Flags().Changed("rating") {
				fb.Rating = &rating
			}
			fb.Description = description
			if durations != (model.Durations{}) {
				fb.Durations = &durations
			}

			rt.cfg.VADEnabled = false
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Service().SendFeedback(cmd.Context(), args[0], fb); err != nil {
				return err
			}
			if rt.jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]string{"queryId": args[0], "status": "sent"})
				return nil
			}
			okLabel.Fprintf(cmd.OutOrStdout(), "feedback sent for query %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "Rating of the answer")
	cmd.Flags().StringVar(&description, "description", "", "Free form comment")
	cmd.Flags().Int64Var(&durations.UserStop, "user-stop-ms", 0, "Time until the user stopped speaking")
	cmd.Flags().Int64Var(&durations.VAD, "vad-ms", 0, "Time until the end of speech was detected")
	cmd.Flags().Int64Var(&durations.Complete, "complete-ms", 0, "Time until the result arrived")
	return cmd
}

