package main

import (
	"bufio"
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/latestcomment/expert-dialogue/internal/services"
)

type runOptions struct {
	expertA string
	expertB string
	topic   string
	turns   string
	delay   string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one conversation in the terminal",
		Long: "Run one conversation in the terminal. While the countdown is showing, " +
			"press Enter to pause it, then type a comment and press Enter to resume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := a.settings()
			sess := services.NewSession(a.backends(), a.scholar(), newConsoleSink(cmd.OutOrStdout()),
				settings, a.logger.Named("session"))
			return runConversation(cmd.Context(), sess, settings, opts, cmd.InOrStdin())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.expertA, "expert-a", "", "first expert, played by the OpenAI backend")
	f.StringVar(&opts.expertB, "expert-b", "", "second expert, played by the Claude backend")
	f.StringVar(&opts.topic, "topic", "", "discussion topic")
	f.StringVar(&opts.turns, "turns", "", "number of turns (default from config)")
	f.StringVar(&opts.delay, "delay", "", "seconds between turns (default from config)")
	_ = cmd.MarkFlagRequired("expert-a")
	_ = cmd.MarkFlagRequired("expert-b")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// runConversation validates, starts and then feeds lines from in to the
// jump-in control until the run ends or ctx is cancelled.
func runConversation(ctx context.Context, sess *services.Session, settings services.Settings, opts runOptions, in io.Reader) error {
	turns, err := settings.ParseTurns(opts.turns)
	if err != nil {
		return err
	}
	delay, err := settings.ParseDelay(opts.delay)
	if err != nil {
		return err
	}
	if _, err := sess.Validate(ctx, opts.expertA, opts.expertB); err != nil {
		return err
	}
	if err := sess.Start(opts.expertA, opts.expertB, opts.topic, turns, delay); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			sess.JumpIn(scanner.Text())
		}
	}()

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Stop()
	}
	return nil
}
