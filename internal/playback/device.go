package playback

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-intake/internal/audio"
)

const FrameDuration = 20 * time.Millisecond

var ErrDeviceClosed = errors.New("playback: device closed")

type voice struct {
	samples []float32
	start   int64
	onEnded func()
}

type voiceSource struct {
	device *StreamDevice
	voice  *voice
}

func (s *voiceSource) Stop() {
	s.device.remove(s.voice)
}

// StreamDevice renders scheduled buffers in real time as mono 16-bit PCM into
// a writer. Its clock is the number of samples rendered so far, so Now never
// runs ahead of what has actually been written.
type StreamDevice struct {
	out          io.Writer
	sampleRate   int
	frameSamples int
	log          *slog.Logger

	mu       sync.Mutex
	rendered int64
	voices   []*voice
	closed   bool

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

func NewStreamDevice(out io.Writer, sampleRate int, log *slog.Logger) *StreamDevice {
	if out == nil {
		out = io.Discard
	}
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamDevice{
		out:          out,
		sampleRate:   sampleRate,
		frameSamples: int(int64(sampleRate) * int64(FrameDuration) / int64(time.Second)),
		log:          log.With("component", "stream_device"),
		stopCh:       make(chan struct{}),
	}
}

func (d *StreamDevice) Start() {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run()
}

func (d *StreamDevice) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	out := d.out
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.render(out, d.frameSamples); err != nil {
				select {
				case <-d.stopCh:
					return
				default:
				}
				d.log.Error("speaker write failed, discarding further output", "error", err)
				out = io.Discard
			}
		}
	}
}

func (d *StreamDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samplesToDuration(d.rendered)
}

func (d *StreamDevice) Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (Source, error) {
	if buf.Frames() == 0 {
		return nil, audio.ErrEmptyPayload
	}
	samples := audio.Resample(buf.Channels[0], buf.SampleRate, d.sampleRate)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}

	v := &voice{
		samples: samples,
		start:   max(d.durationToSamples(at), d.rendered),
		onEnded: onEnded,
	}
	d.voices = append(d.voices, v)
	return &voiceSource{device: d, voice: v}, nil
}

func (d *StreamDevice) remove(v *voice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, candidate := range d.voices {
		if candidate == v {
			d.voices = append(d.voices[:i], d.voices[i+1:]...)
			return
		}
	}
}

// render mixes the next n samples, writes them out and fires completion
// callbacks for voices that finished inside this frame.
func (d *StreamDevice) render(out io.Writer, n int) error {
	mix := make([]float32, n)

	d.mu.Lock()
	from := d.rendered
	to := from + int64(n)

	var finished []func()
	remaining := d.voices[:0]
	for _, v := range d.voices {
		end := v.start + int64(len(v.samples))
		for t := max(from, v.start); t < min(to, end); t++ {
			mix[t-from] += v.samples[t-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
			continue
		}
		remaining = append(remaining, v)
	}
	d.voices = remaining
	d.rendered = to
	d.mu.Unlock()

	_, err := out.Write(audio.EncodePCM16(mix))

	for _, fn := range finished {
		fn()
	}
	return err
}

func (d *StreamDevice) Close() error {
	var err error
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.voices = nil
		d.mu.Unlock()

		close(d.stopCh)
		// Closing the sink first unblocks a render stuck on a stalled speaker.
		if c, ok := d.out.(io.Closer); ok {
			err = c.Close()
		}
		d.wg.Wait()
	})
	return err
}

func (d *StreamDevice) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(d.sampleRate)
}

func (d *StreamDevice) durationToSamples(t time.Duration) int64 {
	return (int64(t)*int64(d.sampleRate) + int64(time.Second)/2) / int64(time.Second)
}
