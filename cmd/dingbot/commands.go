package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/brain"
	"github.com/ent0n29/dingbot/internal/config"
	"github.com/ent0n29/dingbot/internal/dingtalk"
	"github.com/ent0n29/dingbot/internal/logging"
	"github.com/ent0n29/dingbot/internal/news"
	"github.com/ent0n29/dingbot/internal/report"
	"github.com/ent0n29/dingbot/internal/scheduler"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the AI news digest to the group webhook once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Debug, cfg.LogDir)
			if err != nil {
				return err
			}
			defer logger.Sync()

			client := dingtalk.NewClient(dingtalk.ClientConfig{
				AppKey:     cfg.DingTalkAppKey,
				AppSecret:  cfg.DingTalkAppSecret,
				WebhookURL: cfg.DingTalkWebhookURL,
			})
			if !client.PushConfigured() {
				return fmt.Errorf("DINGTALK_WEBHOOK_URL is not set")
			}
			sched, err := scheduler.New(client, newsChain(cfg, logger), scheduler.Config{
				PushTime: cfg.DailyNewsTime,
				Location: cfg.Location,
			}, nil, nil, logger)
			if err != nil {
				return err
			}
			return sched.RunOnce(cmd.Context())
		},
	}
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <topic>",
		Short: "Generate a topic report PDF without going through DingTalk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Debug, cfg.LogDir)
			if err != nil {
				return err
			}
			defer logger.Sync()

			provider, err := brain.NewProvider(cmd.Context(), brainConfig(cfg))
			if err != nil {
				return err
			}
			renderer, err := report.NewRenderer(report.RendererConfig{OutputDir: cfg.UploadDir})
			if err != nil {
				return err
			}
			pipeline, err := report.NewPipeline(provider, renderer, nil, report.PipelineConfig{
				SystemPrompt: cfg.SystemPrompt,
			}, logger)
			if err != nil {
				return err
			}

			reply, err := pipeline.Run(cmd.Context(), topic, "命令行")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func brainConfig(cfg config.Config) brain.Config {
	return brain.Config{
		Mode:          cfg.BrainProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		OllamaURL:     cfg.OllamaURL,
		OllamaModel:   cfg.OllamaModel,
	}
}

func newsChain(cfg config.Config, logger *zap.Logger) *news.Chain {
	providers := make([]news.Provider, 0, 3)
	if cfg.NewsAPIKey != "" {
		providers = append(providers, news.NewNewsAPIProvider(cfg.NewsAPIKey, ""))
	}
	providers = append(providers, news.NewHackerNewsProvider(""), news.NewStaticProvider())
	return news.NewChain(logger, providers...)
}
