package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/voice"
	"github.com/spf13/cobra"
)

type queryFlags struct {
	context     string
	interaction string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.context, "context", "", "JSON object sent as query context")
	cmd.Flags().StringVar(&f.interaction, "interaction", string(model.InteractionQuery), "Interaction type (QUERY or CHAT)")
}

func (f *queryFlags) parse() (map[string]any, model.InteractionType, error) {
	ctx, err := parseContext(f.context)
	if err != nil {
		return nil, "", err
	}
	it, err := parseInteraction(f.interaction)
	if err != nil {
		return nil, "", err
	}
	return ctx, it, nil
}

func parseContext(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ctx map[string]any
	if err := json.UnmarshalFromString(raw, &ctx); err != nil {
		return nil, fmt.Errorf("invalid --context: %w", err)
	}
	return ctx, nil
}

func parseInteraction(raw string) (model.InteractionType, error) {
	switch it := model.InteractionType(strings.ToUpper(raw)); it {
	case model.InteractionQuery, model.InteractionChat:
		return it, nil
	}
	return "", fmt.Errorf("invalid --interaction %q: want QUERY or CHAT", raw)
}

func newAudioCmd(rt *runtime) *cobra.Command {
	var (
		qf        queryFlags
		file      string
		vad       bool
		stopAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Stream audio and run a voice query",
		Long: `Stream raw PCM audio to the query service and print the result.
Audio is read from --file, or stdin when no file is given. With VAD the
server ends the recording when it detects the end of speech; otherwise
recording ends with the input or after --stop-after.

Examples:
  voxquery audio --file question.pcm
  arecord -f S16_LE -r 16000 -t raw | voxquery audio --interaction CHAT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qctx, it, err := qf.parse()
			if err != nil {
				return err
			}
			if file != "" {
				rt.source = audio.FileSource(file)
			}
			if cmd.Flags().Changed("vad") {
				rt.cfg.VADEnabled = vad
			}

			a, err := rt.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if stopAfter > 0 {
				timer := time.AfterFunc(stopAfter, a.Service().Finish)
				defer timer.Stop()
			}

			p := newPrinter(cmd.ErrOrStderr(), rt.jsonOutput)
			a.Service().StartAudioQuery(cmd.Context(), voice.AudioRequest{
				Context:         qctx,
				InteractionType: it,
			}, a.Callback(p))
			return p.finish(cmd.OutOrStdout())
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "Raw PCM file to stream")
	cmd.Flags().BoolVar(&vad, "vad", true, "Let the server detect the end of speech")
	cmd.Flags().DurationVar(&stopAfter, "stop-after", 0, "Stop recording after this long")
	return cmd
}

func newTextCmd(rt *runtime) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "text <query>",
		Short: "Run a text query",
		Example: `  voxquery text where is my order
  voxquery text --interaction CHAT --context '{"cart":3}' "what is in my cart"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qctx, it, err := qf.parse()
			if err != nil {
				return err
			}
			// Text queries never stream audio, so the request/response
			// transport is enough.
			rt.cfg.VADEnabled = false

			a, err := rt.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p := newPrinter(cmd.ErrOrStderr(), rt.jsonOutput)
			a.Service().SendTextQuery(cmd.Context(), voice.TextRequest{
				Context:         qctx,
				InteractionType: it,
				Text:            strings.Join(args, " "),
			}, a.Callback(p))
			return p.finish(cmd.OutOrStdout())
		},
	}
	qf.register(cmd)
	return cmd
}
