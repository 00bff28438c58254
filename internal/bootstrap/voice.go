package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-intake/internal/capture"
	"github.com/eleven-am/voice-intake/internal/gateway"
	"github.com/eleven-am/voice-intake/internal/live"
	"github.com/eleven-am/voice-intake/internal/metrics"
	"github.com/eleven-am/voice-intake/internal/playback"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/ticket"
	"github.com/eleven-am/voice-intake/internal/voicesession"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func ProvideLiveClient(cfg *Config, logger *slog.Logger) *live.Client {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, sessions will fail to connect")
	}
	return live.NewClient(live.Config{
		URL:         cfg.GeminiLiveURL,
		APIKey:      cfg.GeminiAPIKey,
		DialTimeout: cfg.DialTimeout,
	}, logger)
}

func ProvideSessionConfig(cfg *Config) (live.SessionConfig, error) {
	instruction, err := voicesession.LoadInstruction(cfg.InstructionFile)
	if err != nil {
		return live.SessionConfig{}, err
	}
	return live.SessionConfig{
		Model:              cfg.GeminiModel,
		SystemInstruction:  instruction,
		Tools:              ticket.Tools(),
		Voice:              cfg.GeminiVoice,
		ResponseModalities: []string{live.ModalityAudio},
	}, nil
}

func ProvideMicrophone(cfg *Config, logger *slog.Logger) capture.Microphone {
	return capture.NewPCMMicrophone(capture.MicrophoneConfig{
		Command:    cfg.MicCommand,
		File:       cfg.MicFile,
		SampleRate: cfg.MicSampleRate,
	}, logger)
}

func ProvideSpeaker(cfg *Config, logger *slog.Logger) voicesession.SpeakerOpener {
	return playback.NewOpener(playback.OutputConfig{
		Command:    cfg.SpeakerCommand,
		File:       cfg.SpeakerFile,
		SampleRate: cfg.SpeakerSampleRate,
	}, logger)
}

type VoiceSessionParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     *Config
	Client     *live.Client
	Session    live.SessionConfig
	Microphone capture.Microphone
	Speaker    voicesession.SpeakerOpener
	Recorder   *ticket.Recorder
	Journal    *session.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func ProvideVoiceSessionManager(p VoiceSessionParams) *voicesession.Manager {
	mgr := voicesession.NewManager(voicesession.ManagerConfig{
		Dialer:     voicesession.DialerFor(p.Client),
		Microphone: p.Microphone,
		Speaker:    p.Speaker,
		Recorder:   p.Recorder,
		Journal:    p.Journal,
		Session:    p.Session,
		BlockSize:  p.Config.CaptureBlockSize,
		Log:        p.Logger,
		Metrics:    p.Metrics,
	})

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mgr.Close()
		},
	})
	return mgr
}

type VoiceRouteParams struct {
	fx.In

	Handler *gateway.Handler
	Metrics *metrics.Metrics
}

func RegisterVoiceRoutes(e *echo.Echo, params VoiceRouteParams) {
	params.Handler.RegisterRoutes(e.Group("/api/v1"))
	e.GET("/metrics", echo.WrapHandler(params.Metrics.Handler()))
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideLiveClient,
		ProvideSessionConfig,
		ProvideMicrophone,
		ProvideSpeaker,
		ProvideVoiceSessionManager,
	),
	gateway.Module,
	fx.Invoke(RegisterVoiceRoutes),
)
