package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel = "support:tickets"
	queueSuffix    = ":queue"
	queueMaxLen    = 1000
)

// Publisher hands tickets to the support desk: a pub/sub notification for
// live consumers and a capped list for anyone catching up later.
type Publisher struct {
	redis   *redis.Client
	channel string
	log     *slog.Logger
}

func NewPublisher(client *redis.Client, channel string, log *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{redis: client, channel: channel, log: log.With("component", "ticket_publisher")}
}

func (p *Publisher) QueueKey() string {
	return p.channel + queueSuffix
}

func (p *Publisher) Publish(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	pipe := p.redis.TxPipeline()
	pipe.LPush(ctx, p.QueueKey(), data)
	pipe.LTrim(ctx, p.QueueKey(), 0, queueMaxLen-1)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish ticket: %w", err)
	}

	p.log.Debug("published ticket", "ticket_id", t.ID, "channel", p.channel)
	return nil
}

// Recent returns up to limit queued tickets, newest first.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	items, err := p.redis.LRange(ctx, p.QueueKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	tickets := make([]*Ticket, 0, len(items))
	for _, item := range items {
		var t Ticket
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			p.log.Warn("skipping malformed queued ticket", "error", err)
			continue
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}
