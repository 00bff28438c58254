package session

import (
	"strconv"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

// Session is the journal entry for one intake conversation.
type Session struct {
	ID            string     `json:"id"`
	LiveSessionID string     `json:"live_session_id,omitempty"`
	Model         string     `json:"model,omitempty"`
	Status        Status     `json:"status"`
	TicketID      string     `json:"ticket_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	LastActiveAt  time.Time  `json:"last_active_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) RedisKey() string {
	return sessionKey(s.ID)
}

func sessionKey(id string) string {
	return "intake:session:" + id
}

const recentKey = "intake:sessions:recent"

type Stats struct {
	Date     string `json:"date"`
	Hour     int    `json:"hour"`
	Sessions int64  `json:"sessions"`
	Tickets  int64  `json:"tickets"`
	Errors   int64  `json:"errors"`
}

func StatsRedisKey(date string, hour int) string {
	return "intake:stats:" + date + ":" + strconv.Itoa(hour)
}
