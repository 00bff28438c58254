package voicesession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/voice-intake/internal/audio"
	"github.com/eleven-am/voice-intake/internal/capture"
	"github.com/eleven-am/voice-intake/internal/live"
	"github.com/eleven-am/voice-intake/internal/playback"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/ticket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeStream struct {
	blocks   chan []float32
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{blocks: make(chan []float32, 16), stopCh: make(chan struct{})}
}

func (s *fakeStream) Read(block []float32) error {
	select {
	case b := <-s.blocks:
		copy(block, b)
		return nil
	case <-s.stopCh:
		return capture.ErrStopped
	}
}

func (s *fakeStream) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
}

func (s *fakeStream) ActiveTracks() int {
	if s.stopped.Load() {
		return 0
	}
	return 1
}

func (s *fakeStream) SampleRate() int { return audio.InputSampleRate }

type fakeMic struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (m *fakeMic) Open(ctx context.Context) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := newFakeStream()
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMic) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type fakeSource struct {
	stopped atomic.Bool
}

func (s *fakeSource) Stop() { s.stopped.Store(true) }

type fakeScheduled struct {
	at      time.Duration
	onEnded func()
	source  *fakeSource
}

type fakeDevice struct {
	mu        sync.Mutex
	scheduled []*fakeScheduled
	closed    bool
}

func (d *fakeDevice) Now() time.Duration { return 0 }

func (d *fakeDevice) Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (playback.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, playback.ErrDeviceClosed
	}
	src := &fakeSource{}
	d.scheduled = append(d.scheduled, &fakeScheduled{at: at, onEnded: onEnded, source: src})
	return src, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scheduled)
}

func (d *fakeDevice) at(i int) *fakeScheduled {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scheduled[i]
}

type fakeSpeaker struct {
	mu      sync.Mutex
	devices []*fakeDevice
	err     error
}

func (s *fakeSpeaker) Open() (playback.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	d := &fakeDevice{}
	s.devices = append(s.devices, d)
	return d, nil
}

func (s *fakeSpeaker) last() *fakeDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) == 0 {
		return nil
	}
	return s.devices[len(s.devices)-1]
}

func (s *fakeSpeaker) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

type fakeLive struct {
	id        string
	mu        sync.Mutex
	blobs     []audio.Blob
	responses []live.FunctionResponse
	closed    bool
}

func (l *fakeLive) ID() string { return l.id }

func (l *fakeLive) SendRealtimeInput(blob audio.Blob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return live.ErrSessionClosed
	}
	l.blobs = append(l.blobs, blob)
	return nil
}

func (l *fakeLive) SendToolResponse(responses ...live.FunctionResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return live.ErrSessionClosed
	}
	l.responses = append(l.responses, responses...)
	return nil
}

func (l *fakeLive) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLive) sent() []audio.Blob {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audio.Blob(nil), l.blobs...)
}

func (l *fakeLive) acks() []live.FunctionResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]live.FunctionResponse(nil), l.responses...)
}

func (l *fakeLive) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	err      error
	block    bool
	openSync bool
	entered  chan struct{}
	sessions []*fakeLive
	cbs      []live.Callbacks
	configs  []live.SessionConfig
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{entered: make(chan struct{}, 4)}
}

func (d *fakeDialer) Connect(ctx context.Context, cfg live.SessionConfig, cb live.Callbacks) (LiveSession, error) {
	d.mu.Lock()
	d.configs = append(d.configs, cfg)
	block, err, openSync := d.block, d.err, d.openSync
	d.mu.Unlock()

	d.entered <- struct{}{}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	s := &fakeLive{id: "live-" + string(rune('a'+len(d.sessions)))}
	d.sessions = append(d.sessions, s)
	d.cbs = append(d.cbs, cb)
	d.mu.Unlock()

	if openSync {
		cb.OnOpen()
	}
	return s, nil
}

func (d *fakeDialer) last() (*fakeLive, live.Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1], d.cbs[len(d.cbs)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	tickets []*ticket.Ticket
}

func (r *fakeRecorder) Record(ctx context.Context, t *ticket.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, t)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

type journalEntry struct {
	op       string
	id       string
	status   session.Status
	ticketID string
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (j *fakeJournal) CreateSession(ctx context.Context, sess *session.Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{op: "create", id: sess.ID})
	return nil
}

func (j *fakeJournal) AttachTicket(ctx context.Context, id, ticketID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{op: "ticket", id: id, ticketID: ticketID})
	return nil
}

func (j *fakeJournal) EndSession(ctx context.Context, id string, status session.Status, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{op: "end", id: id, status: status})
	return nil
}

func (j *fakeJournal) ops() []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journalEntry(nil), j.entries...)
}

var errDenied = errors.New("permission denied")

type harness struct {
	mic      *fakeMic
	speaker  *fakeSpeaker
	dialer   *fakeDialer
	recorder *fakeRecorder
	journal  *fakeJournal
	manager  *Manager
}

const testBlockSize = 160

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mic:      &fakeMic{},
		speaker:  &fakeSpeaker{},
		dialer:   newFakeDialer(),
		recorder: &fakeRecorder{},
		journal:  &fakeJournal{},
	}
	h.manager = NewManager(ManagerConfig{
		Dialer:     h.dialer,
		Microphone: h.mic,
		Speaker:    h.speaker,
		Recorder:   h.recorder,
		Journal:    h.journal,
		Session:    live.SessionConfig{Model: "test-model", Tools: ticket.Tools()},
		BlockSize:  testBlockSize,
		Log:        testLogger(),
	})
	t.Cleanup(func() { h.manager.Close() })
	return h
}

// connect starts a session and confirms setup, returning the live fakes.
func (h *harness) connect(t *testing.T) (*fakeLive, live.Callbacks) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess, cb := h.dialer.last()
	cb.OnOpen()
	waitFor(t, "connected", func() bool { return h.manager.State() == StateConnected })
	return sess, cb
}
