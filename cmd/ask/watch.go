package main

import (
	"context"
	"fmt"

	"curriculum-qa-be/pkg/events"
	pktNats "curriculum-qa-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	watchCommandUse   = "watch"
	watchCommandShort = "Stream progress updates and answers published on NATS"

	durableFlagName  = "durable"
	durableFlagUsage = "durable consumer name (default: only new events)"
)

type watchOptions struct {
	threadID string
	durable  string
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	options := &watchOptions{}

	command := &cobra.Command{
		Use:   watchCommandUse,
		Short: watchCommandShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchCommand(cmd, *root, *options)
		},
	}
	command.Flags().StringVar(&options.threadID, threadFlagName, "", "only show events of this thread")
	command.Flags().StringVar(&options.durable, durableFlagName, "", durableFlagUsage)

	return command
}

func runWatchCommand(command *cobra.Command, root rootOptions, options watchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	subscriber, err := pktNats.NewSubscriber(cfg.App.NatsURL, newLogger(cfg, root.verbose))
	if err != nil {
		return err
	}
	defer subscriber.Close()

	ctx := command.Context()
	out := command.OutOrStdout()
	err = subscriber.Subscribe(ctx, pktNats.SubjectPrefix+".>", options.durable, func(_ context.Context, e events.Event) error {
		base, ok := e.(events.BaseEvent)
		if !ok {
			return nil
		}
		threadID := base.String("thread_id")
		if options.threadID != "" && threadID != options.threadID {
			return nil
		}
		stamp := e.Timestamp().Format("15:04:05")
		switch e.EventType() {
		case events.TypeProgress:
			color.New(color.FgYellow).Fprintf(out, "%s [%s] %s\n", stamp, threadID, base.String("status"))
		case events.TypeAnswer:
			color.New(color.FgGreen).Fprintf(out, "%s [%s] answer:\n", stamp, threadID)
			fmt.Fprintln(out, base.String("text"))
		}
		return nil
	})
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(out, "Watching %s on %s (Ctrl-C to stop)\n", pktNats.StreamName, cfg.App.NatsURL)
	<-ctx.Done()
	return nil
}
