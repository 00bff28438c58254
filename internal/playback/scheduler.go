package playback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-intake/internal/audio"
)

// Source is a handle to one buffer scheduled on a Device.
type Source interface {
	Stop()
}

// Device is an output with its own clock. onEnded is called once when a
// source finishes naturally; it is not called for sources that were stopped.
type Device interface {
	Now() time.Duration
	Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (Source, error)
	Close() error
}

type Chunk struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration

	source Source
}

func (c *Chunk) End() time.Duration {
	return c.Start + c.Duration
}

// Scheduler lays decoded buffers back to back on a Device. It is not safe for
// concurrent use; the owning session loop serializes every call.
type Scheduler struct {
	device  Device
	onEnded func(id uint64)
	log     *slog.Logger

	cursor time.Duration
	nextID uint64
	active map[uint64]*Chunk
}

// NewScheduler creates a scheduler. onEnded receives the chunk id from the
// device's completion callback and must route it back to Ended.
func NewScheduler(device Device, onEnded func(id uint64), log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		device:  device,
		onEnded: onEnded,
		log:     log.With("component", "playback_scheduler"),
		active:  make(map[uint64]*Chunk),
	}
}

func (s *Scheduler) Enqueue(buf *audio.Buffer) (*Chunk, error) {
	if buf.Frames() == 0 {
		return nil, audio.ErrEmptyPayload
	}

	start := max(s.cursor, s.device.Now())

	s.nextID++
	chunk := &Chunk{
		ID:       s.nextID,
		Start:    start,
		Duration: buf.Duration(),
	}

	id := chunk.ID
	src, err := s.device.Schedule(buf, start, func() {
		if s.onEnded != nil {
			s.onEnded(id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule chunk: %w", err)
	}
	chunk.source = src

	s.cursor = chunk.End()
	s.active[id] = chunk
	return chunk, nil
}

// Ended removes a naturally finished chunk. It reports false if the chunk was
// already removed, e.g. by an interruption.
func (s *Scheduler) Ended(id uint64) bool {
	if _, ok := s.active[id]; !ok {
		return false
	}
	delete(s.active, id)
	return true
}

// Interrupt stops everything that is playing or pending and rewinds the cursor.
func (s *Scheduler) Interrupt() int {
	n := len(s.active)
	for id, chunk := range s.active {
		if chunk.source != nil {
			chunk.source.Stop()
		}
		delete(s.active, id)
	}
	s.cursor = 0
	if n > 0 {
		s.log.Debug("playback flushed", "chunks", n)
	}
	return n
}

func (s *Scheduler) Speaking() bool {
	return len(s.active) > 0
}

func (s *Scheduler) Active() int {
	return len(s.active)
}

func (s *Scheduler) Cursor() time.Duration {
	return s.cursor
}
