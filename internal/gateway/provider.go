package gateway

import (
	"log/slog"

	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/ticket"
	"github.com/eleven-am/voice-intake/internal/voicesession"
	"go.uber.org/fx"
)

func ProvideHandler(
	manager *voicesession.Manager,
	recorder *ticket.Recorder,
	journal *session.Store,
	logger *slog.Logger,
) *Handler {
	return NewHandler(manager, recorder, journal, DefaultRateLimiterConfig(), logger.With("handler", "gateway"))
}

var Module = fx.Options(
	fx.Provide(ProvideHandler),
)
