package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/voice-intake/internal/audio"
)

var (
	ErrStopped      = errors.New("capture: stream stopped")
	ErrNoInput      = errors.New("capture: no microphone configured")
	ErrInvalidBlock = errors.New("capture: empty block")
	ErrEmptyCommand = errors.New("capture: empty microphone command")
)

// Stream is an open microphone. Read fills block completely or returns an
// error; a short read at end of input is reported as ErrStopped.
type Stream interface {
	Read(block []float32) error
	Stop()
	ActiveTracks() int
	SampleRate() int
}

type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

type MicrophoneConfig struct {
	Command    string
	File       string
	SampleRate int
}

// PCMMicrophone reads raw little-endian 16-bit mono PCM from a recorder
// command's stdout or from a file. "-" as File means stdin.
type PCMMicrophone struct {
	cfg MicrophoneConfig
	log *slog.Logger
}

func NewPCMMicrophone(cfg MicrophoneConfig, log *slog.Logger) *PCMMicrophone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &PCMMicrophone{cfg: cfg, log: log.With("component", "microphone")}
}

func (m *PCMMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case m.cfg.Command != "":
		return m.openCommand()
	case m.cfg.File == "-":
		s := newPCMStream(nil, nil, m.cfg.SampleRate)
		s.r = &stdinReader{pump: sharedStdin(), stop: s.stopCh}
		return s, nil
	case m.cfg.File != "":
		f, err := os.Open(m.cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open microphone file: %w", err)
		}
		return newPCMStream(f, f.Close, m.cfg.SampleRate), nil
	default:
		return nil, ErrNoInput
	}
}

func (m *PCMMicrophone) openCommand() (Stream, error) {
	args := strings.Fields(m.cfg.Command)
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("microphone stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start microphone command: %w", err)
	}
	m.log.Debug("microphone command started", "command", args[0], "pid", cmd.Process.Pid)

	stop := func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}
	return newPCMStream(stdout, stop, m.cfg.SampleRate), nil
}

type pcmStream struct {
	r          io.Reader
	release    func() error
	sampleRate int

	raw      []byte
	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newPCMStream(r io.Reader, release func() error, sampleRate int) *pcmStream {
	return &pcmStream{r: r, release: release, sampleRate: sampleRate, stopCh: make(chan struct{})}
}

func (s *pcmStream) Read(block []float32) error {
	if len(block) == 0 {
		return ErrInvalidBlock
	}
	if s.stopped.Load() {
		return ErrStopped
	}

	if cap(s.raw) < len(block)*2 {
		s.raw = make([]byte, len(block)*2)
	}
	raw := s.raw[:len(block)*2]

	if _, err := io.ReadFull(s.r, raw); err != nil {
		if s.stopped.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrStopped
		}
		return fmt.Errorf("read microphone: %w", err)
	}

	copy(block, audio.Int16ToFloat32(audio.PCMBytesToInt16(raw)))
	return nil
}

func (s *pcmStream) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
		if s.release != nil {
			_ = s.release()
		}
	})
}

func (s *pcmStream) ActiveTracks() int {
	if s.stopped.Load() {
		return 0
	}
	return 1
}

func (s *pcmStream) SampleRate() int {
	return s.sampleRate
}
