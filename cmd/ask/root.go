package main

import (
	"context"
	"fmt"
	"os"

	"curriculum-qa-be/internal/bootstrap"
	"curriculum-qa-be/internal/config"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/tracer"
	"curriculum-qa-be/pkg/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const (
	rootCommandUse   = "ask"
	rootCommandShort = "Ask the curriculum assistant from the terminal"

	verboseFlagName  = "verbose"
	verboseFlagUsage = "log pipeline activity to stderr"
)

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	options := &rootOptions{}

	command := &cobra.Command{
		Use:           rootCommandUse,
		Short:         rootCommandShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().BoolVar(&options.verbose, verboseFlagName, false, verboseFlagUsage)

	command.AddCommand(
		newQuestionCommand(options),
		newWatchCommand(options),
		newIngestCommand(options),
	)
	return command
}

// loadConfig reads and validates the same environment the REST server uses
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger keeps stdout for answers: verbose output goes to stderr
func newLogger(cfg *config.Config, verbose bool) logger.ILogger {
	if !verbose {
		return logger.NewNopLogger()
	}
	return logger.New(logger.Options{
		FilePath:     cfg.App.LogFilePath,
		Console:      zapcore.Lock(os.Stderr),
		ConsoleLevel: zap.DebugLevel,
	})
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.Connection == "" {
		return nil, nil
	}
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.Verbose, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// buildContainer wires the full pipeline and starts output forwarding
func buildContainer(ctx context.Context, cfg *config.Config, log logger.ILogger) (*bootstrap.Container, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	t, _ := tracer.InitTracer(log)
	container, err := bootstrap.NewContainer(cfg, db, log, t)
	if err != nil {
		return nil, err
	}
	if err := container.Start(ctx); err != nil {
		container.Close()
		return nil, err
	}
	return container, nil
}
