package dto

type SessionStateResponse struct {
	State     string          `json:"state" example:"connected" enums:"disconnected,connecting,connected,error"`
	Error     string          `json:"error,omitempty" example:"Error de conexión con el servidor."`
	Speaking  bool            `json:"speaking" example:"false"`
	SessionID string          `json:"session_id,omitempty" example:"sess_4b7e02"`
	Ticket    *TicketResponse `json:"ticket,omitempty"`
}

type SessionResponse struct {
	ID            string `json:"id" example:"sess_4b7e02"`
	LiveSessionID string `json:"live_session_id,omitempty" example:"4f0c9c0e-8a0b-4d6e-9a55-3f1f2f3a1b2c"`
	Model         string `json:"model,omitempty" example:"gemini-2.5-flash-native-audio-preview-09-2025"`
	Status        string `json:"status" example:"ended" enums:"active,ended,error"`
	TicketID      string `json:"ticket_id,omitempty" example:"tkt_9f2c1a"`
	ErrorMessage  string `json:"error_message,omitempty"`
	StartedAt     string `json:"started_at" example:"2024-01-15T10:30:00Z"`
	EndedAt       string `json:"ended_at,omitempty" example:"2024-01-15T10:34:12Z"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total" example:"20"`
}

type StatsResponse struct {
	Date     string `json:"date" example:"2024-01-15"`
	Hour     int    `json:"hour" example:"14"`
	Sessions int64  `json:"sessions" example:"10"`
	Tickets  int64  `json:"tickets" example:"7"`
	Errors   int64  `json:"errors" example:"1"`
}

type StatsListResponse struct {
	Hours int             `json:"hours" example:"24"`
	Stats []StatsResponse `json:"stats"`
}
