package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/client/internal/app"
	"github.com/satriahrh/arunika/client/internal/render"
	"github.com/satriahrh/arunika/client/usecase"
)

var sayPlay bool

var sayCmd = &cobra.Command{
	Use:   "say TEXT",
	Short: "Send a text question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		turn, err := a.Conversation.HandleTextSubmit(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return finishTurn(cmd.Context(), cmd.OutOrStdout(), a, turn, sayPlay)
	},
}

var (
	askFile string
	askPlay bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send a recorded question and print the answer",
	Long: `Send an audio file as the question. The backend transcribes it,
answers and returns the spoken reply.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if askFile == "" {
			return fmt.Errorf("--file is required")
		}
		path, err := filepath.Abs(askFile)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", askFile, err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		turn, err := a.Conversation.HandleRecordingComplete(cmd.Context(), "file://"+path)
		if err != nil {
			return err
		}
		return finishTurn(cmd.Context(), cmd.OutOrStdout(), a, turn, askPlay)
	},
}

// finishTurn prints a completed turn and optionally plays the reply
func finishTurn(ctx context.Context, w io.Writer, a *app.App, turn *usecase.Turn, play bool) error {
	if outputFormat != "" {
		if err := output(w, turn, outputFormat); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, render.NewRenderer(0).Transcript(a.Conversation.LastInteraction()))
	}

	if play && turn.Bot.HasAudio() {
		return a.PlayAndWait(ctx, turn.Bot.AudioURI)
	}
	return nil
}

func init() {
	sayCmd.Flags().BoolVar(&sayPlay, "play", false, "play the spoken answer")
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "audio file holding the question")
	askCmd.Flags().BoolVar(&askPlay, "play", false, "play the spoken answer")

	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(askCmd)
}
