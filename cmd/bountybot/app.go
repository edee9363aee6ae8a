package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/config"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
	"github.com/tbourn/go-bounty-bot/internal/transport"
	"github.com/tbourn/go-bounty-bot/internal/transport/memory"
	"github.com/tbourn/go-bounty-bot/internal/transport/slackchat"
)

// openStore opens the configured database and brings the schema up to date.
func openStore(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(repo.Options{
		Driver:  cfg.DBDriver,
		Path:    cfg.DBPath,
		DSN:     cfg.DBDSN,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("record store ready")
	return db, nil
}

// chatStack is the configured transport plus, for Slack, the event gateway that
// has to run alongside it.
type chatStack struct {
	transport transport.Transport
	gateway   func(ctx context.Context, router slackchat.Dispatcher) error
}

func newChat(cfg config.Config) (*chatStack, error) {
	if cfg.Transport != "slack" {
		log.Warn().Msg("using the in-memory transport; nothing is delivered to a chat platform")
		return &chatStack{transport: memory.New()}, nil
	}
	client, err := slackchat.NewClient(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.Debug)
	if err != nil {
		return nil, err
	}
	tr := slackchat.NewTransport(client)
	return &chatStack{
		transport: tr,
		gateway: func(ctx context.Context, router slackchat.Dispatcher) error {
			return slackchat.NewGateway(client, tr, router, cfg.Slack.Debug).Run(ctx)
		},
	}, nil
}

func newServices(cfg config.Config, db *gorm.DB, t transport.Transport) *services.Services {
	return services.New(db, t, services.Options{
		BotWriterTag:    cfg.BotWriterTag,
		BoardURL:        cfg.BountyBoardURL,
		FallbackChannel: cfg.FallbackChannelID,
		ModalTimeout:    cfg.ModalTimeout,
		ConflictRetries: cfg.ConflictRetries,
	})
}
