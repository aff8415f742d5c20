package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joan6141318-ai/Moon-sub000/audiocapture"
	"github.com/joan6141318-ai/Moon-sub000/internal/app"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/wavdevice"
)

var converseCmd = &cobra.Command{
	Use:   "converse",
	Short: "Run one voice session with a WAV file as the microphone",
	Long: `Replay a WAV recording as the microphone of a live session, render
everything the model says to an output WAV file and print the transcript.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		fast, _ := cmd.Flags().GetBool("fast")
		linger, _ := cmd.Flags().GetDuration("linger")

		capCfg := audiocapture.DefaultConfig()
		capCfg.Realtime = !fast
		if cfg.Session.FrameSize > 0 {
			capCfg.BlockSize = cfg.Session.FrameSize
		}
		mic, err := audiocapture.OpenFile(input, capCfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := app.New(ctx, cfg, version)
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		dev := wavdevice.New(mic, output)
		ctrl := svc.NewController(dev, app.LogObserver{Session: "converse"})

		var live app.LiveAdapter
		live.Start(ctx, ctrl)
		slog.Info("conversation started", "input", input, "duration", mic.Duration())

		select {
		case <-mic.Finished():
			select {
			case <-time.After(linger):
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}

		entries := live.Transcript()
		status := live.Status()
		if err := live.Stop(); err != nil {
			return fmt.Errorf("stop session: %w", err)
		}

		printTranscript(cmd.OutOrStdout(), entries)
		if status.State == "error" {
			return fmt.Errorf("session ended in error state")
		}
		return nil
	},
}

func printTranscript(w io.Writer, entries []types.TranscriptEntry) {
	for _, e := range entries {
		if e.Lang != "" {
			fmt.Fprintf(w, "[%s:%s] %s\n", e.Source, e.Lang, e.Text)
			continue
		}
		fmt.Fprintf(w, "[%s] %s\n", e.Source, e.Text)
	}
}

func init() {
	converseCmd.Flags().StringP("input", "i", "", "WAV file replayed as the microphone")
	converseCmd.Flags().StringP("output", "o", "reply.wav", "WAV file receiving the model's speech")
	converseCmd.Flags().Bool("fast", false, "deliver input as fast as possible instead of in real time")
	converseCmd.Flags().Duration("linger", 8*time.Second, "time to wait for the reply after the input ends")
	_ = converseCmd.MarkFlagRequired("input")
}
