package ticket

import "time"

// Ticket is a support request extracted from a conversation. Once created it
// is never modified; a later submission in the same session replaces it with
// a new record.
type Ticket struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	SessionID    string    `gorm:"uniqueIndex;not null" json:"session_id"`
	Number       int       `gorm:"not null" json:"number"`
	CallID       string    `json:"call_id"`
	Name         string    `gorm:"not null" json:"nombre"`
	Email        string    `gorm:"not null" json:"correo"`
	Municipality string    `gorm:"not null" json:"municipalidad"`
	Area         string    `gorm:"not null" json:"area"`
	Module       string    `gorm:"not null" json:"modulo"`
	Problem      string    `gorm:"type:text;not null" json:"problema"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Ticket) TableName() string {
	return "support_tickets"
}
