package ticket

import (
	"strings"

	"github.com/eleven-am/voice-intake/internal/live"
)

const (
	ToolName  = "saveSupportTicket"
	AckResult = "Ticket guardado exitosamente."
)

const (
	ArgName         = "nombre"
	ArgEmail        = "correo"
	ArgMunicipality = "municipalidad"
	ArgArea         = "area"
	ArgModule       = "modulo"
	ArgProblem      = "problema"
)

var arguments = []struct {
	name        string
	description string
}{
	{ArgName, "Nombre del usuario"},
	{ArgEmail, "Correo electrónico del usuario"},
	{ArgMunicipality, "Municipalidad del usuario"},
	{ArgArea, "Área del sistema (ej: Tránsito, Rentas)"},
	{ArgModule, "Módulo específico o equipamiento"},
	{ArgProblem, "Descripción detallada del problema"},
}

func Declaration() live.FunctionDeclaration {
	props := make(map[string]*live.Schema, len(arguments))
	required := make([]string, 0, len(arguments))
	for _, arg := range arguments {
		props[arg.name] = &live.Schema{Type: "STRING", Description: arg.description}
		required = append(required, arg.name)
	}
	return live.FunctionDeclaration{
		Name:        ToolName,
		Description: "Guarda el ticket de soporte con la información recopilada del usuario.",
		Parameters: &live.Schema{
			Type:       "OBJECT",
			Properties: props,
			Required:   required,
		},
	}
}

func Tools() []live.Tool {
	return []live.Tool{{FunctionDeclarations: []live.FunctionDeclaration{Declaration()}}}
}

type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "ticket: missing or empty arguments: " + strings.Join(e.Missing, ", ")
}

// FromArgs validates tool-call arguments and copies them into an unsaved
// ticket. Every argument must be a string that is not blank.
func FromArgs(args map[string]any) (*Ticket, error) {
	values := make(map[string]string, len(arguments))
	var missing []string
	for _, arg := range arguments {
		s, ok := args[arg.name].(string)
		if !ok || strings.TrimSpace(s) == "" {
			missing = append(missing, arg.name)
			continue
		}
		values[arg.name] = s
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	return &Ticket{
		Name:         values[ArgName],
		Email:        values[ArgEmail],
		Municipality: values[ArgMunicipality],
		Area:         values[ArgArea],
		Module:       values[ArgModule],
		Problem:      values[ArgProblem],
	}, nil
}
