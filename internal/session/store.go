package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eleven-am/voice-intake/internal/shared"
)

const (
	sessionTTL = 24 * time.Hour
	statsTTL   = 7 * 24 * time.Hour
	recentMax  = 500
)

type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("sess_")
	}
	now := time.Now()
	sess.Status = StatusActive
	sess.StartedAt = now
	sess.LastActiveAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sess.RedisKey(), data, sessionTTL)
	pipe.ZAdd(ctx, recentKey, redis.Z{Score: float64(now.UnixNano()), Member: sess.ID})
	pipe.ZRemRangeByRank(ctx, recentKey, 0, -recentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return s.increment(ctx, "sessions")
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *Store) AttachTicket(ctx context.Context, id, ticketID string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.TicketID = ticketID
	if err := s.UpdateSession(ctx, sess); err != nil {
		return err
	}
	return s.increment(ctx, "tickets")
}

// EndSession closes the journal entry. Ending an already ended session keeps
// its first outcome.
func (s *Store) EndSession(ctx context.Context, id string, status Status, message string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return nil
	}

	now := time.Now()
	sess.Status = status
	sess.ErrorMessage = message
	sess.EndedAt = &now
	if err := s.UpdateSession(ctx, sess); err != nil {
		return err
	}

	if status == StatusError {
		return s.increment(ctx, "errors")
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.ZRem(ctx, recentKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRecent returns up to limit sessions, newest first. Entries whose record
// has expired are skipped.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.redis.ZRevRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) increment(ctx context.Context, field string) error {
	now := time.Now().UTC()
	key := StatsRedisKey(now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, statsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetStats returns hourly counters for the last hours, newest first. Hours
// without activity are omitted.
func (s *Store) GetStats(ctx context.Context, hours int) ([]*Stats, error) {
	now := time.Now().UTC()
	var stats []*Stats

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := StatsRedisKey(t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		st := &Stats{Date: t.Format("2006-01-02"), Hour: t.Hour()}
		st.Sessions, _ = strconv.ParseInt(data["sessions"], 10, 64)
		st.Tickets, _ = strconv.ParseInt(data["tickets"], 10, 64)
		st.Errors, _ = strconv.ParseInt(data["errors"], 10, 64)
		stats = append(stats, st)
	}
	return stats, nil
}
