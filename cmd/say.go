package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/internal/app"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Render the spoken intro (or any text) to a WAV file",
	Long: `Synthesize text with the configured provider voice and write it as a
24 kHz mono WAV file. Without arguments the configured intro is rendered,
which also warms the intro cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			text = cfg.Session.IntroText
		}
		if text == "" {
			return fmt.Errorf("nothing to say: pass text or set session.intro_text")
		}

		svc, err := app.New(cmd.Context(), cfg, version)
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		pcm, err := svc.Synthesizer().Synthesize(cmd.Context(), voice.SpeechRequest{
			Text:  text,
			Voice: cfg.Provider.Voice,
		})
		if err != nil {
			return fmt.Errorf("synthesize: %w", err)
		}
		samples, err := audio.PCM16ToFloat(pcm)
		if err != nil {
			return fmt.Errorf("decode speech: %w", err)
		}
		wav, err := audio.EncodeWAV(samples, audio.OutputSampleRate)
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, wav, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", output, err)
		}

		slog.Info("speech rendered", "path", output, "duration", audio.DurationOf(len(samples), audio.OutputSampleRate))
		return nil
	},
}

func init() {
	sayCmd.Flags().StringP("output", "o", "intro.wav", "output WAV file")
}
