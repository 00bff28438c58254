package ticket

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/eleven-am/voice-intake/internal/live"
	"github.com/eleven-am/voice-intake/internal/metrics"
	"github.com/eleven-am/voice-intake/internal/shared"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
)

// Responder delivers acknowledgements back over the live session.
type Responder interface {
	SendToolResponse(responses ...live.FunctionResponse) error
}

type Result struct {
	CallID  string
	Name    string
	Outcome Outcome
	Ticket  *Ticket
	Err     error
}

// Bridge turns saveSupportTicket invocations into tickets. It keeps the
// current session's ticket and is driven by a single goroutine.
type Bridge struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	current *Ticket
}

func NewBridge(log *slog.Logger, m *metrics.Metrics) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:     log.With("component", "ticket_bridge"),
		metrics: m,
		now:     time.Now,
	}
}

// Handle processes every invocation of call in order. A valid invocation
// replaces the current ticket and is acknowledged right away; an invalid one
// leaves the ticket untouched and is not acknowledged.
func (b *Bridge) Handle(sessionID string, call *live.ToolCall, r Responder) []Result {
	if call == nil {
		return nil
	}

	results := make([]Result, 0, len(call.FunctionCalls))
	for _, fc := range call.FunctionCalls {
		res := Result{CallID: fc.ID, Name: fc.Name}

		if fc.Name != ToolName {
			b.log.Warn("ignoring unknown tool call", "name", fc.Name, "call_id", fc.ID)
			res.Outcome = OutcomeIgnored
			b.metrics.RecordToolCall(fc.Name, string(res.Outcome))
			results = append(results, res)
			continue
		}

		t, err := FromArgs(fc.Args)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				b.log.Warn("rejecting ticket submission", "call_id", fc.ID, "missing", verr.Missing)
			}
			res.Outcome = OutcomeRejected
			res.Err = err
			b.metrics.RecordToolCall(fc.Name, string(res.Outcome))
			results = append(results, res)
			continue
		}

		t.ID = shared.NewID("tkt_")
		t.SessionID = sessionID
		t.CallID = fc.ID
		t.Number = 1000 + rand.IntN(9000)
		t.CreatedAt = b.now()
		b.current = t

		if err := r.SendToolResponse(live.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": AckResult},
		}); err != nil {
			b.log.Error("failed to acknowledge ticket", "call_id", fc.ID, "error", err)
			res.Err = err
		}

		b.log.Info("ticket saved", "ticket_id", t.ID, "number", t.Number, "call_id", fc.ID)
		res.Outcome = OutcomeAccepted
		res.Ticket = t
		b.metrics.RecordToolCall(fc.Name, string(res.Outcome))
		results = append(results, res)
	}
	return results
}

// Current returns a copy of the session's ticket, or nil if none was saved.
func (b *Bridge) Current() *Ticket {
	if b.current == nil {
		return nil
	}
	t := *b.current
	return &t
}

func (b *Bridge) Reset() {
	b.current = nil
}
