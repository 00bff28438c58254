package live

import (
	"strings"

	"github.com/eleven-am/voice-intake/internal/audio"
)

const ModalityAudio = "AUDIO"

type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *audio.Blob `json:"inlineData,omitempty"`
}

type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type RealtimeInput struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ServerMessage struct {
	SetupComplete        *SetupComplete        `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *GoAway               `json:"goAway,omitempty"`
	UsageMetadata        *UsageMetadata        `json:"usageMetadata,omitempty"`
}

type SetupComplete struct{}

type ServerContent struct {
	ModelTurn          *Content `json:"modelTurn,omitempty"`
	TurnComplete       bool     `json:"turnComplete,omitempty"`
	GenerationComplete bool     `json:"generationComplete,omitempty"`
	Interrupted        bool     `json:"interrupted,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// AudioParts returns every inline audio payload of the model turn, in order.
func (m *ServerMessage) AudioParts() []audio.Blob {
	if m == nil || m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var blobs []audio.Blob
	for _, part := range m.ServerContent.ModelTurn.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		if part.InlineData.MimeType != "" && !strings.HasPrefix(part.InlineData.MimeType, "audio/") {
			continue
		}
		blobs = append(blobs, *part.InlineData)
	}
	return blobs
}

func (m *ServerMessage) Interrupted() bool {
	return m != nil && m.ServerContent != nil && m.ServerContent.Interrupted
}

type SessionConfig struct {
	Model              string
	SystemInstruction  string
	Tools              []Tool
	Voice              string
	ResponseModalities []string
}

// BuildSetup converts a session configuration into the opening setup message.
func BuildSetup(cfg SessionConfig) *Setup {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{ModalityAudio}
	}

	setup := &Setup{
		Model: modelResource(cfg.Model),
		GenerationConfig: &GenerationConfig{
			ResponseModalities: modalities,
		},
		Tools: cfg.Tools,
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	return setup
}

func modelResource(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
