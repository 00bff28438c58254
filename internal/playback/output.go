package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

var ErrEmptyCommand = errors.New("playback: empty speaker command")

type OutputConfig struct {
	Command    string
	File       string
	SampleRate int
}

// Opener builds a started StreamDevice per session from the configured sink.
type Opener struct {
	cfg OutputConfig
	log *slog.Logger
}

func NewOpener(cfg OutputConfig, log *slog.Logger) *Opener {
	return &Opener{cfg: cfg, log: log}
}

func (o *Opener) Open() (Device, error) {
	out, err := openOutput(o.cfg)
	if err != nil {
		return nil, err
	}
	d := NewStreamDevice(out, o.cfg.SampleRate, o.log)
	d.Start()
	return d, nil
}

func openOutput(cfg OutputConfig) (io.Writer, error) {
	switch {
	case cfg.Command != "":
		return startCommand(cfg.Command)
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open speaker file: %w", err)
		}
		return f, nil
	default:
		return io.Discard, nil
	}
}

type commandWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (c *commandWriter) Close() error {
	err := c.WriteCloser.Close()
	_ = c.cmd.Process.Kill()
	_ = c.cmd.Wait()
	return err
}

func startCommand(command string) (io.WriteCloser, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("speaker stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start speaker command: %w", err)
	}
	return &commandWriter{WriteCloser: stdin, cmd: cmd}, nil
}
