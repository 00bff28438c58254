package dto

type TicketResponse struct {
	ID           string `json:"id" example:"tkt_9f2c1a"`
	SessionID    string `json:"session_id" example:"sess_4b7e02"`
	Number       int    `json:"number" example:"4821"`
	Name         string `json:"nombre" example:"Juan Pérez"`
	Email        string `json:"correo" example:"juan@muni.cl"`
	Municipality string `json:"municipalidad" example:"Talca"`
	Area         string `json:"area" example:"Tránsito"`
	Module       string `json:"modulo" example:"Licencias"`
	Problem      string `json:"problema" example:"No puedo imprimir"`
	CreatedAt    string `json:"created_at" example:"2024-01-15T10:30:00Z"`
}

type TicketListResponse struct {
	Tickets []TicketResponse `json:"tickets"`
	Total   int              `json:"total" example:"12"`
}
