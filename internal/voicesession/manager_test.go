package voicesession

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/voice-intake/internal/audio"
	"github.com/eleven-am/voice-intake/internal/live"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/ticket"
)

func audioMessage(parts ...string) *live.ServerMessage {
	content := &live.Content{}
	for _, data := range parts {
		content.Parts = append(content.Parts, live.Part{
			InlineData: &audio.Blob{MimeType: "audio/pcm;rate=24000", Data: data},
		})
	}
	return &live.ServerMessage{ServerContent: &live.ServerContent{ModelTurn: content}}
}

func pcmPayload(samples int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func ticketCall(id string, args map[string]any) *live.ServerMessage {
	return &live.ServerMessage{ToolCall: &live.ToolCall{FunctionCalls: []live.FunctionCall{
		{ID: id, Name: ticket.ToolName, Args: args},
	}}}
}

func juanArgs() map[string]any {
	return map[string]any{
		"nombre":        "Juan Pérez",
		"correo":        "juan@muni.cl",
		"municipalidad": "Talca",
		"area":          "Tránsito",
		"modulo":        "Licencias",
		"problema":      "No puedo imprimir",
	}
}

func TestManager_InitialState(t *testing.T) {
	h := newHarness(t)

	snap := h.manager.Snapshot()
	if snap.State != StateDisconnected {
		t.Errorf("expected disconnected, got %s", snap.State)
	}
	if snap.Ticket != nil || snap.Speaking || snap.Error != "" {
		t.Errorf("unexpected initial snapshot %+v", snap)
	}
}

func TestManager_ConnectCaptureDisconnect(t *testing.T) {
	h := newHarness(t)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.manager.State() != StateConnecting {
		t.Fatalf("expected connecting before setup completes, got %s", h.manager.State())
	}
	if cfg := h.dialer.configs[0]; cfg.Model != "test-model" || len(cfg.Tools) != 1 {
		t.Errorf("unexpected session config %+v", cfg)
	}

	sess, cb := h.dialer.last()
	cb.OnOpen()
	waitFor(t, "connected", func() bool { return h.manager.State() == StateConnected })

	stream := h.mic.last()
	for i := 0; i < 3; i++ {
		block := make([]float32, testBlockSize)
		block[0] = float32(i+1) / 10
		stream.blocks <- block
	}
	waitFor(t, "three payloads", func() bool { return len(sess.sent()) == 3 })

	for i, blob := range sess.sent() {
		if blob.MimeType != "audio/pcm;rate=16000" {
			t.Errorf("payload %d mime = %q", i, blob.MimeType)
		}
		raw, _ := base64.StdEncoding.DecodeString(blob.Data)
		if len(raw) != 2*testBlockSize {
			t.Errorf("payload %d has %d bytes", i, len(raw))
		}
	}

	if err := h.manager.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if h.manager.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", h.manager.State())
	}
	if stream.ActiveTracks() != 0 {
		t.Errorf("expected microphone released, %d tracks active", stream.ActiveTracks())
	}
	if !sess.isClosed() {
		t.Error("expected live session closed")
	}
	if !h.speaker.last().isClosed() {
		t.Error("expected output device closed")
	}

	sent := len(sess.sent())
	stream.blocks <- make([]float32, testBlockSize)
	time.Sleep(20 * time.Millisecond)
	if len(sess.sent()) != sent {
		t.Error("payload sent after disconnect")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		if err := h.manager.Disconnect(context.Background()); err != nil {
			t.Fatalf("Disconnect %d failed: %v", i, err)
		}
	}
	if h.manager.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", h.manager.State())
	}

	h.connect(t)
	h.manager.Disconnect(context.Background())
	h.manager.Disconnect(context.Background())

	if h.manager.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", h.manager.State())
	}
	ends := func() int {
		n := 0
		for _, e := range h.journal.ops() {
			if e.op == "end" {
				n++
			}
		}
		return n
	}
	waitFor(t, "journal end", func() bool { return ends() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := ends(); n != 1 {
		t.Errorf("expected a single journal end, got %d", n)
	}
}

func TestManager_StartWhileActive(t *testing.T) {
	h := newHarness(t)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.manager.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive while connecting, got %v", err)
	}

	_, cb := h.dialer.last()
	cb.OnOpen()
	waitFor(t, "connected", func() bool { return h.manager.State() == StateConnected })

	if err := h.manager.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive while connected, got %v", err)
	}
	h.mic.mu.Lock()
	opened := len(h.mic.streams)
	h.mic.mu.Unlock()
	if opened != 1 {
		t.Error("a rejected start must not acquire another microphone")
	}
}

func TestManager_MicrophoneFailure(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errDenied

	err := h.manager.Start(context.Background())
	if !errors.Is(err, ErrAcquisition) {
		t.Fatalf("expected ErrAcquisition, got %v", err)
	}

	snap := h.manager.Snapshot()
	if snap.State != StateError || snap.Error != MessageAcquisitionFailed {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if h.speaker.opened() != 0 {
		t.Error("speaker should not be opened after microphone failure")
	}
}

func TestManager_DialFailureReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("connection refused")

	if err := h.manager.Start(context.Background()); !errors.Is(err, ErrAcquisition) {
		t.Fatalf("expected ErrAcquisition, got %v", err)
	}

	if h.mic.last().ActiveTracks() != 0 {
		t.Error("microphone left open after failed connect")
	}
	if !h.speaker.last().isClosed() {
		t.Error("speaker left open after failed connect")
	}
	if h.manager.Snapshot().Error != MessageAcquisitionFailed {
		t.Errorf("unexpected error message %q", h.manager.Snapshot().Error)
	}

	h.dialer.mu.Lock()
	h.dialer.err = nil
	h.dialer.mu.Unlock()
	h.connect(t)
	if h.manager.Snapshot().Error != "" {
		t.Error("error message should clear on reconnect")
	}
}

func TestManager_DisconnectDuringConnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = true

	result := make(chan error, 1)
	go func() { result <- h.manager.Start(context.Background()) }()

	<-h.dialer.entered
	if h.manager.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", h.manager.State())
	}

	if err := h.manager.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if h.manager.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", h.manager.State())
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectAborted) {
			t.Errorf("expected ErrConnectAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after disconnect")
	}

	if h.mic.last().ActiveTracks() != 0 {
		t.Error("microphone left open after aborted connect")
	}
	if !h.speaker.last().isClosed() {
		t.Error("speaker left open after aborted connect")
	}
	if h.manager.State() != StateDisconnected {
		t.Errorf("aborted connect must not change state, got %s", h.manager.State())
	}
}

func TestManager_OpenBeforeAttach(t *testing.T) {
	h := newHarness(t)
	h.dialer.openSync = true

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "connected", func() bool { return h.manager.State() == StateConnected })
}

func TestManager_PlaybackAndInterrupt(t *testing.T) {
	h := newHarness(t)
	_, cb := h.connect(t)

	cb.OnMessage(audioMessage(pcmPayload(480), pcmPayload(240)))
	waitFor(t, "two chunks scheduled", func() bool { return h.speaker.last().count() == 2 })

	device := h.speaker.last()
	if device.at(0).at != 0 || device.at(1).at != 20*time.Millisecond {
		t.Errorf("chunks not back to back: %v, %v", device.at(0).at, device.at(1).at)
	}
	if !h.manager.Snapshot().Speaking {
		t.Error("expected speaking while chunks are active")
	}

	cb.OnMessage(&live.ServerMessage{ServerContent: &live.ServerContent{Interrupted: true}})
	waitFor(t, "speaking cleared", func() bool { return !h.manager.Snapshot().Speaking })

	if !device.at(0).source.stopped.Load() || !device.at(1).source.stopped.Load() {
		t.Error("interrupt must stop every active chunk")
	}

	cb.OnMessage(audioMessage(pcmPayload(24)))
	waitFor(t, "chunk after interrupt", func() bool { return device.count() == 3 })
	if device.at(2).at != 0 {
		t.Errorf("cursor should restart from the device clock, got %v", device.at(2).at)
	}
}

func TestManager_ChunkCompletionClearsSpeaking(t *testing.T) {
	h := newHarness(t)
	_, cb := h.connect(t)

	cb.OnMessage(audioMessage(pcmPayload(48)))
	waitFor(t, "chunk scheduled", func() bool { return h.speaker.last().count() == 1 })

	h.speaker.last().at(0).onEnded()
	waitFor(t, "speaking cleared", func() bool { return !h.manager.Snapshot().Speaking })
}

func TestManager_DecodeFailureDropsChunk(t *testing.T) {
	h := newHarness(t)
	_, cb := h.connect(t)

	cb.OnMessage(audioMessage("%%%not-base64", base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), pcmPayload(24)))
	waitFor(t, "valid chunk scheduled", func() bool { return h.speaker.last().count() == 1 })

	if h.manager.State() != StateConnected {
		t.Errorf("decode failures must not affect the session, got %s", h.manager.State())
	}
}

func TestManager_ToolCallCreatesTicket(t *testing.T) {
	h := newHarness(t)
	sess, cb := h.connect(t)

	cb.OnMessage(ticketCall("call-1", juanArgs()))
	waitFor(t, "ticket", func() bool { return h.manager.Ticket() != nil })

	tk := h.manager.Ticket()
	if tk.Name != "Juan Pérez" || tk.Email != "juan@muni.cl" || tk.Problem != "No puedo imprimir" {
		t.Errorf("unexpected ticket %+v", tk)
	}
	if tk.SessionID != h.manager.Snapshot().SessionID {
		t.Error("ticket should belong to the current session")
	}

	acks := sess.acks()
	if len(acks) != 1 || acks[0].ID != "call-1" || acks[0].Response["result"] != ticket.AckResult {
		t.Errorf("unexpected acknowledgements %+v", acks)
	}

	waitFor(t, "ticket recorded", func() bool { return h.recorder.count() == 1 })
	waitFor(t, "ticket journaled", func() bool {
		for _, e := range h.journal.ops() {
			if e.op == "ticket" && e.ticketID == tk.ID {
				return true
			}
		}
		return false
	})
}

func TestManager_ToolCallMissingField(t *testing.T) {
	h := newHarness(t)
	sess, cb := h.connect(t)

	args := juanArgs()
	delete(args, "correo")
	cb.OnMessage(ticketCall("call-1", args))
	cb.OnMessage(audioMessage(pcmPayload(24)))
	waitFor(t, "following message processed", func() bool { return h.speaker.last().count() == 1 })

	if h.manager.Ticket() != nil {
		t.Error("ticket must stay absent")
	}
	if len(sess.acks()) != 0 {
		t.Error("invalid call must not be acknowledged")
	}
	if h.manager.State() != StateConnected {
		t.Errorf("validation failure must not affect the session, got %s", h.manager.State())
	}
}

func TestManager_ReconnectResetsTicket(t *testing.T) {
	h := newHarness(t)
	_, cb := h.connect(t)

	cb.OnMessage(ticketCall("call-1", juanArgs()))
	waitFor(t, "ticket", func() bool { return h.manager.Ticket() != nil })

	h.manager.Disconnect(context.Background())
	if h.manager.Ticket() == nil {
		t.Error("ticket should remain visible after disconnect")
	}

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.manager.Ticket() != nil {
		t.Error("a new connect must reset the ticket")
	}
}

func TestManager_ServerClose(t *testing.T) {
	h := newHarness(t)
	sess, cb := h.connect(t)
	stream := h.mic.last()

	cb.OnClose(1000, "")
	waitFor(t, "disconnected", func() bool { return h.manager.State() == StateDisconnected })

	if stream.ActiveTracks() != 0 || !sess.isClosed() || !h.speaker.last().isClosed() {
		t.Error("server close must release every resource")
	}
	waitFor(t, "journal end", func() bool {
		for _, e := range h.journal.ops() {
			if e.op == "end" && e.status == session.StatusEnded {
				return true
			}
		}
		return false
	})
}

func TestManager_TransportError(t *testing.T) {
	h := newHarness(t)
	_, cb := h.connect(t)
	stream := h.mic.last()

	cb.OnMessage(audioMessage(pcmPayload(480)))
	cb.OnError(errors.New("read tcp: connection reset by peer"))
	waitFor(t, "error state", func() bool { return h.manager.State() == StateError })

	snap := h.manager.Snapshot()
	if snap.Error != MessageConnectionError {
		t.Errorf("unexpected message %q", snap.Error)
	}
	if snap.Speaking {
		t.Error("playback must be flushed on error")
	}
	if stream.ActiveTracks() != 0 || !h.speaker.last().isClosed() {
		t.Error("transport error must release microphone and speaker")
	}
	waitFor(t, "journal error", func() bool {
		for _, e := range h.journal.ops() {
			if e.op == "end" && e.status == session.StatusError {
				return true
			}
		}
		return false
	})

	if err := h.manager.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if h.manager.State() != StateDisconnected {
		t.Errorf("disconnect from error should reach disconnected, got %s", h.manager.State())
	}
}

func TestManager_StaleEventsIgnored(t *testing.T) {
	h := newHarness(t)
	_, oldCB := h.connect(t)
	h.manager.Disconnect(context.Background())

	newSess, _ := h.connect(t)

	oldCB.OnError(errors.New("late failure"))
	oldCB.OnClose(1000, "")
	oldCB.OnMessage(ticketCall("stale", juanArgs()))
	time.Sleep(20 * time.Millisecond)

	if h.manager.State() != StateConnected {
		t.Errorf("stale events changed state to %s", h.manager.State())
	}
	if h.manager.Ticket() != nil || len(newSess.acks()) != 0 {
		t.Error("stale tool call must be ignored")
	}
}

func TestManager_Subscribe(t *testing.T) {
	h := newHarness(t)

	snaps, cancel := h.manager.Subscribe()
	defer cancel()

	first := <-snaps
	if first.State != StateDisconnected {
		t.Errorf("expected initial disconnected snapshot, got %s", first.State)
	}

	h.connect(t)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if snap.State == StateConnected {
				return
			}
		case <-deadline:
			t.Fatal("no connected snapshot received")
		}
	}
}

func TestManager_SubscribeCancel(t *testing.T) {
	h := newHarness(t)

	snaps, cancel := h.manager.Subscribe()
	<-snaps
	cancel()
	cancel()

	if _, ok := <-snaps; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.connect(t)

	if err := h.manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sess.isClosed() {
		t.Error("Close must end the active session")
	}
	if err := h.manager.Start(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	if h.manager.Close() != nil {
		t.Error("second Close should be a no-op")
	}
}
