package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/dingbot/internal/archive"
	"github.com/ent0n29/dingbot/internal/bot"
	"github.com/ent0n29/dingbot/internal/brain"
	"github.com/ent0n29/dingbot/internal/config"
	"github.com/ent0n29/dingbot/internal/convo"
	"github.com/ent0n29/dingbot/internal/dingtalk"
	"github.com/ent0n29/dingbot/internal/httpapi"
	"github.com/ent0n29/dingbot/internal/logging"
	"github.com/ent0n29/dingbot/internal/observability"
	"github.com/ent0n29/dingbot/internal/report"
	"github.com/ent0n29/dingbot/internal/scheduler"
	"github.com/ent0n29/dingbot/internal/voice"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the daily news scheduler",
		RunE: func(*cobra.Command, []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Debug, cfg.LogDir)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)
	window := observability.NewStageWindow(256)

	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("archive store init: %w", err)
	}
	defer archiveStore.Close()

	provider, err := brain.NewProvider(ctx, brainConfig(cfg))
	if err != nil {
		return fmt.Errorf("brain provider init: %w", err)
	}
	logger.Info("brain provider ready", zap.String("provider", provider.Name()))

	dingClient := dingtalk.NewClient(dingtalk.ClientConfig{
		AppKey:     cfg.DingTalkAppKey,
		AppSecret:  cfg.DingTalkAppSecret,
		WebhookURL: cfg.DingTalkWebhookURL,
	})

	var voicePipeline bot.VoicePipeline
	if transcriber, ok := provider.(voice.Transcriber); ok && dingClient.Configured() {
		processor, err := voice.NewProcessor(voice.Config{
			WorkDir:    cfg.UploadDir,
			FFmpegPath: cfg.FFmpegPath,
		}, dingClient, transcriber, logger)
		if err != nil {
			return fmt.Errorf("voice processor init: %w", err)
		}
		voicePipeline = processor
	} else {
		logger.Warn("voice transcription disabled",
			zap.Bool("dingtalk_configured", dingClient.Configured()),
			zap.String("provider", provider.Name()))
	}

	renderer, err := report.NewRenderer(report.RendererConfig{OutputDir: cfg.UploadDir})
	if err != nil {
		return fmt.Errorf("report renderer init: %w", err)
	}
	var publisher report.Publisher
	if cfg.MinioEndpoint != "" {
		uploader, err := report.NewUploader(ctx, report.UploaderConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("object storage unavailable, reports stay on disk", zap.Error(err))
		} else {
			publisher = uploader
		}
	}
	reportPipeline, err := report.NewPipeline(provider, renderer, publisher, report.PipelineConfig{
		SystemPrompt: cfg.SystemPrompt,
	}, logger)
	if err != nil {
		return fmt.Errorf("report pipeline init: %w", err)
	}

	sched, err := scheduler.New(dingClient, newsChain(cfg, logger), scheduler.Config{
		PushTime: cfg.DailyNewsTime,
		Location: cfg.Location,
	}, metrics, window, logger)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}

	store := convo.NewStore(cfg.HistoryMaxTurns, cfg.SystemPrompt)
	router, err := bot.New(bot.Deps{
		Store:    store,
		Provider: provider,
		Reporter: reportPipeline,
		Voice:    voicePipeline,
		Archive:  archiveStore,
		Metrics:  metrics,
		Window:   window,
		Log:      logger,
	}, bot.Options{
		TriggerKeywords: cfg.TriggerKeywords,
		ChatTimeout:     cfg.ChatTimeout,
		ReportTimeout:   cfg.ReportTimeout,
		VoiceTimeout:    cfg.VoiceTimeout,
	})
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}

	api := httpapi.New(httpapi.Config{
		AppSecret: cfg.DingTalkAppSecret,
		Version:   version,
	}, router, metrics, window, logger)
	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	if cfg.StreamEnabled {
		listener := dingtalk.NewStreamListener(dingtalk.StreamConfig{
			ClientID:     cfg.DingTalkAppKey,
			ClientSecret: cfg.DingTalkAppSecret,
		}, router.Handle, logger)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stream listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
