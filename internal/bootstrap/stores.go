package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/voice-intake/internal/metrics"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/ticket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideTicketStore(db *gorm.DB) *ticket.Store {
	if db == nil {
		return nil
	}
	return ticket.NewStore(db)
}

func ProvideTicketPublisher(redisClient *redis.Client, cfg *Config, logger *slog.Logger) *ticket.Publisher {
	return ticket.NewPublisher(redisClient, cfg.TicketChannel, logger)
}

func ProvideTicketRecorder(store *ticket.Store, publisher *ticket.Publisher, logger *slog.Logger, m *metrics.Metrics) *ticket.Recorder {
	return ticket.NewRecorder(store, publisher, logger, m)
}

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func RunMigrations(store *ticket.Store) error {
	if store == nil {
		return nil
	}
	return store.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideTicketStore,
		ProvideTicketPublisher,
		ProvideTicketRecorder,
		ProvideSessionStore,
	),
	fx.Invoke(RunMigrations),
)
