package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/toxbot/internal/api"
	"github.com/zulandar/toxbot/internal/bot"
	"github.com/zulandar/toxbot/internal/chat"
	discordadapter "github.com/zulandar/toxbot/internal/chat/discord"
	slackadapter "github.com/zulandar/toxbot/internal/chat/slack"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/sentiment"
	"golang.org/x/sync/errgroup"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot",
		Long: "Connects to the configured chat platform, relays feedback bridges, records " +
			"guild sentiment and runs the scheduled jobs. Stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	gormDB, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	first, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	classifier, err := createClassifier(cfg)
	if err != nil {
		return err
	}

	// With the API up the bot can be restarted remotely, so it outliving
	// a dropped connection is expected.
	svc, err := bot.NewService(bot.ServiceOpts{
		DB:     gormDB,
		Config: cfg,
		NewAdapter: func() (chat.Adapter, error) {
			// Restarts after a stop need a fresh adapter.
			if a := first; a != nil {
				first = nil
				return a, nil
			}
			return createAdapter(cfg)
		},
		Classifier:  classifier,
		ExitWithBot: !cfg.API.Enabled,
		Out:         out,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The service exiting on its own also stops the API.
		defer stop()
		return svc.Run(gctx)
	})

	if cfg.API.Enabled {
		srv, err := api.NewServer(api.ServerOpts{
			DB:      gormDB,
			Bridges: svc.Manager(),
			Jobs:    svc.Scheduler(),
			Guilds:  svc,
			Service: svc,
			Port:    cfg.API.Port,
			Out:     out,
		})
		if err != nil {
			stop()
			g.Wait()
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (chat.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.Token,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("start: unsupported platform %q", cfg.Platform)
	}
}

// createClassifier builds the LLM classifier, or returns nil when none is
// configured.
func createClassifier(cfg *config.Config) (sentiment.Classifier, error) {
	if cfg.Classifier.BaseURL == "" || cfg.Classifier.Model == "" {
		log.Info().Msg("start: no classifier configured; check command and recording disabled")
		return nil, nil
	}
	return sentiment.NewLLMClassifier(sentiment.LLMOpts{
		BaseURL:      cfg.Classifier.BaseURL,
		APIKey:       cfg.Classifier.APIKey,
		Model:        cfg.Classifier.Model,
		SystemPrompt: cfg.Classifier.SystemPrompt,
		Timeout:      cfg.Classifier.Timeout.Std(),
	})
}
