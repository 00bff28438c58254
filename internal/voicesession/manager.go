package voicesession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-intake/internal/audio"
	"github.com/eleven-am/voice-intake/internal/capture"
	"github.com/eleven-am/voice-intake/internal/live"
	"github.com/eleven-am/voice-intake/internal/metrics"
	"github.com/eleven-am/voice-intake/internal/playback"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/shared"
	"github.com/eleven-am/voice-intake/internal/ticket"
)

const (
	eventBuffer      = 256
	backgroundBuffer = 64
	backgroundWait   = 5 * time.Second
	subscriberBuffer = 8
)

type LiveSession interface {
	ID() string
	SendRealtimeInput(blob audio.Blob) error
	SendToolResponse(responses ...live.FunctionResponse) error
	Close() error
}

type LiveDialer interface {
	Connect(ctx context.Context, cfg live.SessionConfig, cb live.Callbacks) (LiveSession, error)
}

type SpeakerOpener interface {
	Open() (playback.Device, error)
}

type TicketRecorder interface {
	Record(ctx context.Context, t *ticket.Ticket) error
}

type SessionJournal interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	AttachTicket(ctx context.Context, id, ticketID string) error
	EndSession(ctx context.Context, id string, status session.Status, message string) error
}

type clientDialer struct {
	client *live.Client
}

// DialerFor adapts a live client to the dialer the manager expects.
func DialerFor(client *live.Client) LiveDialer {
	return clientDialer{client: client}
}

func (d clientDialer) Connect(ctx context.Context, cfg live.SessionConfig, cb live.Callbacks) (LiveSession, error) {
	s, err := d.client.Connect(ctx, cfg, cb)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type ManagerConfig struct {
	Dialer     LiveDialer
	Microphone capture.Microphone
	Speaker    SpeakerOpener
	Recorder   TicketRecorder
	Journal    SessionJournal
	Session    live.SessionConfig
	BlockSize  int
	Log        *slog.Logger
	Metrics    *metrics.Metrics
}

// attempt holds everything one connection owns. Fields are only touched on
// the manager loop.
type attempt struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	mic       capture.Stream
	speaker   playback.Device
	live      LiveSession
	scheduler *playback.Scheduler
	capture   *capture.Loop

	attached    bool
	opened      bool
	connectedAt time.Time
}

// Manager runs the single intake session. All state lives on one goroutine;
// callbacks, commands and queries are funneled through the same channel and
// handled in the order they were submitted.
type Manager struct {
	dialer     LiveDialer
	microphone capture.Microphone
	speaker    SpeakerOpener
	recorder   TicketRecorder
	journal    SessionJournal
	sessionCfg live.SessionConfig
	blockSize  int
	log        *slog.Logger
	metrics    *metrics.Metrics

	events     chan func()
	background chan func(ctx context.Context)
	quit       chan struct{}
	loopDone   chan struct{}
	bgDone     chan struct{}
	closeOnce  sync.Once

	// loop-owned
	state       State
	errMsg      string
	sessionID   string
	gen         uint64
	att         *attempt
	bridge      *ticket.Bridge
	speaking    bool
	subscribers map[int]chan Snapshot
	nextSubID   int
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = capture.DefaultBlockSize
	}
	log := cfg.Log.With("component", "voicesession_manager")

	m := &Manager{
		dialer:      cfg.Dialer,
		microphone:  cfg.Microphone,
		speaker:     cfg.Speaker,
		recorder:    cfg.Recorder,
		journal:     cfg.Journal,
		sessionCfg:  cfg.Session,
		blockSize:   cfg.BlockSize,
		log:         log,
		metrics:     cfg.Metrics,
		events:      make(chan func(), eventBuffer),
		background:  make(chan func(ctx context.Context), backgroundBuffer),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		bgDone:      make(chan struct{}),
		state:       StateDisconnected,
		bridge:      ticket.NewBridge(log, cfg.Metrics),
		subscribers: make(map[int]chan Snapshot),
	}
	m.metrics.RecordState(string(StateDisconnected), allStates)

	go m.run()
	go m.runBackground()
	return m
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.quit:
			return
		}
	}
}

// runBackground performs journal and ticket hand-off writes one at a time so
// they reach the backends in the order the loop produced them.
func (m *Manager) runBackground() {
	defer close(m.bgDone)
	for {
		select {
		case fn := <-m.background:
			ctx, cancel := context.WithTimeout(context.Background(), backgroundWait)
			fn(ctx)
			cancel()
		case <-m.quit:
			for {
				select {
				case fn := <-m.background:
					ctx, cancel := context.WithTimeout(context.Background(), backgroundWait)
					fn(ctx)
					cancel()
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	select {
	case m.events <- func() { fn(); close(done) }:
	case <-m.quit:
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-m.loopDone:
		return ErrManagerClosed
	}
}

// post queues fn from a callback goroutine. It gives up once the attempt the
// callback belongs to has been torn down.
func (m *Manager) post(ctx context.Context, fn func()) {
	select {
	case m.events <- fn:
	case <-ctx.Done():
	case <-m.quit:
	}
}

func (m *Manager) enqueueBackground(fn func(ctx context.Context)) {
	select {
	case m.background <- fn:
	case <-m.quit:
	}
}

// Start begins a new session. It returns once the microphone, the speaker and
// the live connection have been acquired; the session becomes Connected when
// the service confirms setup.
func (m *Manager) Start(ctx context.Context) error {
	var att *attempt
	var startErr error
	if err := m.call(func() { att, startErr = m.beginConnect(ctx) }); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	res, acqErr := m.acquire(att)

	var result error
	if err := m.call(func() { result = m.finishConnect(att, res, acqErr) }); err != nil {
		res.release()
		return err
	}
	return result
}

func (m *Manager) beginConnect(ctx context.Context) (*attempt, error) {
	if m.state.Active() {
		return nil, ErrSessionActive
	}

	m.gen++
	attCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	att := &attempt{gen: m.gen, ctx: attCtx, cancel: cancel}

	m.att = att
	m.sessionID = shared.NewID("sess_")
	m.bridge.Reset()
	m.speaking = false
	m.setState(StateConnecting, "")
	m.log.Info("connecting", "session_id", m.sessionID)
	return att, nil
}

type resources struct {
	mic     capture.Stream
	speaker playback.Device
	live    LiveSession
}

func (r resources) release() {
	if r.live != nil {
		r.live.Close()
	}
	if r.mic != nil {
		r.mic.Stop()
	}
	if r.speaker != nil {
		r.speaker.Close()
	}
}

// acquire runs off the loop. Anything acquired before a failure is released
// before returning.
func (m *Manager) acquire(att *attempt) (resources, error) {
	var res resources

	mic, err := m.microphone.Open(att.ctx)
	if err != nil {
		return res, fmt.Errorf("open microphone: %w", err)
	}
	res.mic = mic

	speaker, err := m.speaker.Open()
	if err != nil {
		res.release()
		return resources{}, fmt.Errorf("open speaker: %w", err)
	}
	res.speaker = speaker

	sess, err := m.dialer.Connect(att.ctx, m.sessionCfg, m.callbacks(att))
	if err != nil {
		res.release()
		return resources{}, fmt.Errorf("connect live session: %w", err)
	}
	res.live = sess
	return res, nil
}

func (m *Manager) callbacks(att *attempt) live.Callbacks {
	return live.Callbacks{
		OnOpen: func() {
			m.post(att.ctx, func() { m.handleOpen(att) })
		},
		OnMessage: func(msg *live.ServerMessage) {
			m.post(att.ctx, func() { m.handleMessage(att, msg) })
		},
		OnClose: func(code int, reason string) {
			m.post(att.ctx, func() { m.handleClose(att, code, reason) })
		},
		OnError: func(err error) {
			m.post(att.ctx, func() { m.handleError(att, err) })
		},
	}
}

func (m *Manager) current(att *attempt) bool {
	return m.att != nil && m.att == att && att.gen == m.gen
}

func (m *Manager) finishConnect(att *attempt, res resources, err error) error {
	if !m.current(att) {
		res.release()
		m.log.Debug("discarding superseded connect", "generation", att.gen)
		return ErrConnectAborted
	}

	if err != nil {
		m.log.Error("session acquisition failed", "session_id", m.sessionID, "error", err)
		m.teardown(att)
		m.metrics.RecordSessionOutcome("acquisition_failed")
		m.setState(StateError, MessageAcquisitionFailed)
		return fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	att.mic = res.mic
	att.speaker = res.speaker
	att.live = res.live
	att.scheduler = playback.NewScheduler(att.speaker, func(id uint64) {
		m.post(att.ctx, func() { m.handleChunkEnded(att, id) })
	}, m.log)
	att.attached = true

	sessionID := m.sessionID
	liveID := att.live.ID()
	model := m.sessionCfg.Model
	if m.journal != nil {
		m.enqueueBackground(func(ctx context.Context) {
			err := m.journal.CreateSession(ctx, &session.Session{ID: sessionID, LiveSessionID: liveID, Model: model})
			if err != nil {
				m.log.Warn("failed to journal session start", "session_id", sessionID, "error", err)
			}
		})
	}

	if att.opened {
		m.enterConnected(att)
	}
	return nil
}

func (m *Manager) handleOpen(att *attempt) {
	if !m.current(att) {
		return
	}
	att.opened = true
	if att.attached && m.state == StateConnecting {
		m.enterConnected(att)
	}
}

func (m *Manager) enterConnected(att *attempt) {
	att.connectedAt = time.Now()
	att.capture = capture.NewLoop(capture.LoopConfig{
		Stream:    att.mic,
		Sink:      att.live,
		BlockSize: m.blockSize,
		Log:       m.log.With("session_id", m.sessionID),
		Metrics:   m.metrics,
	})
	att.capture.Start(att.ctx)

	m.metrics.RecordSessionOutcome("connected")
	m.metrics.RecordConnected()
	m.setState(StateConnected, "")
	m.log.Info("session connected", "session_id", m.sessionID, "live_session_id", att.live.ID())
}

func (m *Manager) handleMessage(att *attempt, msg *live.ServerMessage) {
	if !m.current(att) {
		return
	}
	if !att.attached {
		m.log.Debug("dropping message received before resources were attached")
		return
	}

	if msg.ToolCall != nil {
		m.handleToolCall(att, msg.ToolCall)
	}

	for _, part := range msg.AudioParts() {
		rate := audio.SampleRateFromMimeType(part.MimeType, audio.OutputSampleRate)
		buf, err := audio.DecodeBase64PCM16(part.Data, rate, 1)
		if err != nil {
			m.metrics.RecordDecodeFailure()
			m.log.Warn("dropping undecodable audio chunk", "error", err)
			continue
		}
		chunk, err := att.scheduler.Enqueue(buf)
		if err != nil {
			m.log.Warn("failed to schedule audio chunk", "error", err)
			continue
		}
		m.metrics.RecordPlaybackChunk(buf.Frames() * 2)
		m.log.Debug("scheduled audio", "chunk_id", chunk.ID, "start", chunk.Start, "duration", chunk.Duration)
	}

	if msg.Interrupted() {
		n := att.scheduler.Interrupt()
		m.metrics.RecordInterruption()
		m.log.Debug("playback interrupted", "flushed", n)
	}

	if msg.ServerContent != nil && msg.ServerContent.TurnComplete {
		m.log.Debug("model turn complete")
	}

	m.refreshSpeaking(att)
}

func (m *Manager) handleToolCall(att *attempt, call *live.ToolCall) {
	sessionID := m.sessionID
	changed := false
	for _, res := range m.bridge.Handle(sessionID, call, att.live) {
		if res.Outcome != ticket.OutcomeAccepted {
			continue
		}
		changed = true
		t := res.Ticket
		if m.recorder != nil {
			m.enqueueBackground(func(ctx context.Context) {
				if err := m.recorder.Record(ctx, t); err != nil {
					m.log.Warn("ticket hand-off incomplete", "ticket_id", t.ID, "error", err)
				}
			})
		}
		if m.journal != nil {
			m.enqueueBackground(func(ctx context.Context) {
				if err := m.journal.AttachTicket(ctx, sessionID, t.ID); err != nil {
					m.log.Warn("failed to journal ticket", "session_id", sessionID, "error", err)
				}
			})
		}
	}
	if changed {
		m.broadcast()
	}
}

func (m *Manager) handleChunkEnded(att *attempt, id uint64) {
	if !m.current(att) || att.scheduler == nil {
		return
	}
	att.scheduler.Ended(id)
	m.refreshSpeaking(att)
}

func (m *Manager) refreshSpeaking(att *attempt) {
	speaking := att.scheduler != nil && att.scheduler.Speaking()
	if speaking != m.speaking {
		m.speaking = speaking
		m.broadcast()
	}
}

func (m *Manager) handleClose(att *attempt, code int, reason string) {
	if !m.current(att) {
		return
	}
	m.log.Info("live session closed", "session_id", m.sessionID, "code", code, "reason", reason)
	m.endSession(att, session.StatusEnded, "")
	m.metrics.RecordSessionOutcome("closed")
	m.setState(StateDisconnected, "")
}

func (m *Manager) handleError(att *attempt, err error) {
	if !m.current(att) {
		return
	}
	m.log.Error("live session failed", "session_id", m.sessionID, "error", err)
	m.endSession(att, session.StatusError, MessageConnectionError)
	m.metrics.RecordSessionOutcome("transport_error")
	m.setState(StateError, MessageConnectionError)
}

// Disconnect ends the current session, or aborts one that is still
// connecting. It is safe to call in any state.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.call(func() {
		if m.att != nil {
			m.log.Info("disconnecting", "session_id", m.sessionID, "state", m.state)
			m.endSession(m.att, session.StatusEnded, "")
			m.metrics.RecordSessionOutcome("disconnected")
		}
		if m.state != StateDisconnected {
			m.setState(StateDisconnected, "")
		}
	})
}

func (m *Manager) endSession(att *attempt, status session.Status, message string) {
	attached := att.attached
	m.teardown(att)

	if attached && m.journal != nil {
		sessionID := m.sessionID
		m.enqueueBackground(func(ctx context.Context) {
			if err := m.journal.EndSession(ctx, sessionID, status, message); err != nil {
				m.log.Warn("failed to journal session end", "session_id", sessionID, "error", err)
			}
		})
	}
}

// teardown releases everything att holds, synchronously and in order:
// microphone first so no further audio is captured, then the connection,
// then playback.
func (m *Manager) teardown(att *attempt) {
	att.cancel()

	if att.capture != nil {
		att.capture.Stop()
	} else if att.mic != nil {
		att.mic.Stop()
	}
	if att.live != nil {
		att.live.Close()
	}
	if att.scheduler != nil {
		att.scheduler.Interrupt()
	}
	if att.speaker != nil {
		if err := att.speaker.Close(); err != nil {
			m.log.Warn("failed to close speaker", "error", err)
		}
	}

	if !att.connectedAt.IsZero() {
		m.metrics.RecordDisconnected(time.Since(att.connectedAt))
	}
	if m.att == att {
		m.att = nil
	}
	m.speaking = false
}

func (m *Manager) setState(state State, message string) {
	m.state = state
	m.errMsg = message
	m.metrics.RecordState(string(state), allStates)
	m.broadcast()
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		State:     m.state,
		Error:     m.errMsg,
		Speaking:  m.speaking,
		SessionID: m.sessionID,
		Ticket:    m.bridge.Current(),
	}
}

// broadcast delivers the latest snapshot to every subscriber. A slow
// subscriber loses intermediate snapshots, never the most recent one.
func (m *Manager) broadcast() {
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshot()
	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (m *Manager) Snapshot() Snapshot {
	var snap Snapshot
	if err := m.call(func() { snap = m.snapshot() }); err != nil {
		return Snapshot{State: StateDisconnected}
	}
	return snap
}

func (m *Manager) State() State {
	return m.Snapshot().State
}

func (m *Manager) Ticket() *ticket.Ticket {
	return m.Snapshot().Ticket
}

// Subscribe returns a channel of snapshots, starting with the current one,
// and a function that ends the subscription.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	var id int
	err := m.call(func() {
		id = m.nextSubID
		m.nextSubID++
		m.subscribers[id] = ch
		ch <- m.snapshot()
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.call(func() {
				if _, ok := m.subscribers[id]; ok {
					delete(m.subscribers, id)
					close(ch)
				}
			})
		})
	}
	return ch, cancel
}

// Close disconnects any active session and stops the manager.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.Disconnect(context.Background())
		m.call(func() {
			for id, ch := range m.subscribers {
				delete(m.subscribers, id)
				close(ch)
			}
		})
		close(m.quit)
		<-m.loopDone
		<-m.bgDone
	})
	return err
}
