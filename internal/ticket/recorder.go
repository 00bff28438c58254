package ticket

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eleven-am/voice-intake/internal/metrics"
)

// Recorder persists accepted tickets and hands them to the support desk.
// Either sink may be nil when its backend is not configured.
type Recorder struct {
	store     *Store
	publisher *Publisher
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewRecorder(store *Store, publisher *Publisher, log *slog.Logger, m *metrics.Metrics) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		store:     store,
		publisher: publisher,
		log:       log.With("component", "ticket_recorder"),
		metrics:   m,
	}
}

func (r *Recorder) Record(ctx context.Context, t *Ticket) error {
	var errs []error

	if r.store != nil {
		err := r.store.Save(ctx, t)
		r.metrics.RecordTicketSink("store", err)
		if err != nil {
			r.log.Error("failed to store ticket", "ticket_id", t.ID, "error", err)
			errs = append(errs, err)
		}
	}

	if r.publisher != nil {
		err := r.publisher.Publish(ctx, t)
		r.metrics.RecordTicketSink("redis", err)
		if err != nil {
			r.log.Error("failed to publish ticket", "ticket_id", t.ID, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// List reads persisted tickets, falling back to the support queue when no
// database is configured.
func (r *Recorder) List(ctx context.Context, limit int) ([]*Ticket, error) {
	switch {
	case r.store != nil:
		return r.store.List(ctx, limit)
	case r.publisher != nil:
		return r.publisher.Recent(ctx, limit)
	default:
		return nil, nil
	}
}
