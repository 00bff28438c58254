package ticket

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/eleven-am/voice-intake/internal/shared"
)

const defaultListLimit = 50

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Ticket{})
}

// Save stores t as the ticket of its session, replacing any earlier one.
func (s *Store) Save(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = shared.NewID("tkt_")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", t.SessionID).Delete(&Ticket{}).Error; err != nil {
			return err
		}
		return tx.Create(t).Error
	})
}

func (s *Store) GetByID(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &t, err
}

func (s *Store) GetBySession(ctx context.Context, sessionID string) (*Ticket, error) {
	var t Ticket
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &t, err
}

// List returns the most recent tickets first.
func (s *Store) List(ctx context.Context, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var tickets []*Ticket
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&tickets).Error
	return tickets, err
}
