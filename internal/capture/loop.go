package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/voice-intake/internal/audio"
	"github.com/eleven-am/voice-intake/internal/metrics"
)

const DefaultBlockSize = 4096

// Sink accepts framed audio. SendRealtimeInput must not block on the network.
type Sink interface {
	SendRealtimeInput(blob audio.Blob) error
}

type LoopConfig struct {
	Stream    Stream
	Sink      Sink
	BlockSize int
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

// Loop pumps fixed-size microphone blocks into a Sink until the stream ends
// or the loop is stopped. Blocks are forwarded in capture order.
type Loop struct {
	stream    Stream
	sink      Sink
	blockSize int
	log       *slog.Logger
	metrics   *metrics.Metrics

	blocks atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Loop{
		stream:    cfg.Stream,
		sink:      cfg.Sink,
		blockSize: cfg.BlockSize,
		log:       cfg.Log.With("component", "capture_loop"),
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	block := make([]float32, l.blockSize)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.stream.Read(block); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				l.log.Debug("capture stream ended", "blocks", l.blocks.Load())
			} else {
				l.log.Warn("capture read failed", "error", err)
			}
			return
		}

		// A stop that raced the read wins; the block is discarded.
		if ctx.Err() != nil {
			return
		}

		samples := audio.Resample(block, l.stream.SampleRate(), audio.InputSampleRate)
		blob := audio.FramePCM(samples)
		if err := l.sink.SendRealtimeInput(blob); err != nil {
			l.log.Debug("capture sink rejected block", "error", err)
			return
		}

		l.blocks.Add(1)
		l.metrics.RecordCaptureBlock(len(samples) * 2)
	}
}

// Stop cancels the loop, releases the microphone and waits for the pump to
// exit. It is safe to call more than once and before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	started := l.started
	cancel := l.cancel
	l.started = true
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.stream.Stop()

	if !started {
		close(l.done)
		return
	}
	<-l.done
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Blocks() int64 {
	return l.blocks.Load()
}
