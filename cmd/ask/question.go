package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"curriculum-qa-be/pkg/rag/pipeline"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	questionCommandUse   = "question [text]"
	questionCommandShort = "Answer one question, or start an interactive thread when no text is given"

	threadFlagName  = "thread"
	threadFlagUsage = "thread id to continue (default: a new thread)"
	traceFlagName   = "trace"
	traceFlagUsage  = "print the stage trace after each answer"

	promptText = "you> "
)

type questionOptions struct {
	threadID string
	trace    bool
}

func newQuestionCommand(root *rootOptions) *cobra.Command {
	options := &questionOptions{}

	command := &cobra.Command{
		Use:   questionCommandUse,
		Short: questionCommandShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuestionCommand(cmd, *root, *options, args)
		},
	}
	command.Flags().StringVar(&options.threadID, threadFlagName, "", threadFlagUsage)
	command.Flags().BoolVar(&options.trace, traceFlagName, false, traceFlagUsage)

	return command
}

func runQuestionCommand(command *cobra.Command, root rootOptions, options questionOptions, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := command.Context()
	container, err := buildContainer(ctx, cfg, newLogger(cfg, root.verbose))
	if err != nil {
		return err
	}
	defer container.Close()

	threadID := options.threadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	out := command.OutOrStdout()

	if len(args) > 0 {
		return askOnce(command, container.Pipeline, threadID, strings.Join(args, " "), options.trace)
	}

	color.New(color.FgCyan).Fprintf(out, "Thread %s (empty line or Ctrl-D to quit)\n", threadID)
	scanner := bufio.NewScanner(command.InOrStdin())
	for {
		fmt.Fprint(out, promptText)
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}
		if err := askOnce(command, container.Pipeline, threadID, question, options.trace); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func askOnce(command *cobra.Command, p *pipeline.Pipeline, threadID, question string, trace bool) error {
	answer, err := p.Ask(command.Context(), threadID, question)
	if err != nil {
		return err
	}
	printAnswer(command.OutOrStdout(), answer, trace)
	return nil
}

func printAnswer(out io.Writer, answer *pipeline.Answer, trace bool) {
	fmt.Fprintln(out, answer.Text)

	meta := color.New(color.FgHiBlack)
	meta.Fprintf(out, "[path=%s intent=%s programs=%s iterations=%d took=%s]\n",
		answer.Path, answer.Intent, strings.Join(answer.Programs, ","), answer.Iterations, answer.Took.Round(time.Millisecond))
	if len(answer.Citations) > 0 {
		meta.Fprintf(out, "sources: %s\n", strings.Join(answer.Citations, ", "))
	}
	if !trace {
		return
	}
	for i, step := range answer.Trace {
		line := fmt.Sprintf("%2d. %-22s -> %-22s %s", i+1, step.Stage, step.Next, step.Took.Round(time.Millisecond))
		switch {
		case step.Error != "":
			color.New(color.FgRed).Fprintf(out, "%s (%s)\n", line, step.Error)
		case step.Degraded:
			color.New(color.FgYellow).Fprintf(out, "%s degraded\n", line)
		default:
			meta.Fprintln(out, line)
		}
	}
}
