package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/latestcomment/expert-dialogue/internal/config"
	"github.com/latestcomment/expert-dialogue/internal/gateway"
	"github.com/latestcomment/expert-dialogue/internal/logging"
	"github.com/latestcomment/expert-dialogue/internal/scholar"
	"github.com/latestcomment/expert-dialogue/internal/services"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "expert-dialogue",
		Short:        "Stage an evidence-only debate between two experts played by two LLM backends",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = a.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(a), newValidateCmd(a), newRunCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) backends() gateway.Set {
	return gateway.NewSet(
		gateway.NewOpenAI(gateway.OpenAIConfig{
			APIKey:      a.cfg.OpenAI.APIKey,
			Model:       a.cfg.OpenAI.Model,
			BaseURL:     a.cfg.OpenAI.BaseURL,
			MaxTokens:   a.cfg.OpenAI.MaxTokens,
			Temperature: a.cfg.OpenAI.Temperature,
			MaxRetries:  a.cfg.OpenAI.MaxRetries,
		}),
		gateway.NewClaude(gateway.ClaudeConfig{
			APIKey:      a.cfg.Claude.APIKey,
			Model:       a.cfg.Claude.Model,
			BaseURL:     a.cfg.Claude.BaseURL,
			MaxTokens:   a.cfg.Claude.MaxTokens,
			Temperature: a.cfg.Claude.Temperature,
			MaxRetries:  a.cfg.Claude.MaxRetries,
		}),
	)
}

func (a *app) scholar() *scholar.Client {
	return scholar.NewClient(scholar.Config{
		BaseURL: a.cfg.Scholar.BaseURL,
		APIKey:  a.cfg.Scholar.APIKey,
		Timeout: a.cfg.Scholar.Timeout,
	}, a.logger.Named("scholar"))
}

func (a *app) settings() services.Settings {
	c := a.cfg.Conversation
	return services.Settings{
		DefaultTurns:        c.DefaultTurns,
		DefaultDelaySeconds: c.DefaultDelaySeconds,
		MaxTurns:            c.MaxTurns,
		MaxDelaySeconds:     c.MaxDelaySeconds,
		TickInterval:        c.TickInterval,
		BackendTimeout:      c.BackendTimeout,
	}
}
