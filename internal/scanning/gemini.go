package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		logger:    logger,
	}, nil
}

func (g *Gemini) Name() string {
	return "gemini"
}

// Generate asks Gemini for schema-constrained JSON describing the invoice image
func (g *Gemini) Generate(ctx context.Context, req Request) (*Generation, error) {
	// A fresh model handle per call keeps concurrent requests from sharing config
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	if req.Schema != nil {
		model.ResponseSchema = toGenaiSchema(req.Schema)
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instruction)}}

	parts := []genai.Part{
		genai.Blob{MIMEType: req.Payload.MIMEType, Data: req.Payload.Data},
		genai.Text("Extract the invoice data from this document."),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage[g.modelName] = TokenCount{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return &Generation{Usage: usage}, errors.New("no response from gemini")
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		g.logger.Warn("Gemini response truncated", "model", g.modelName)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	g.logger.Debug("Gemini generation complete",
		"model", g.modelName,
		"response_chars", text.Len(),
		"total_tokens", usage.Total(),
	)

	return &Generation{Text: text.String(), Usage: usage}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// toGenaiSchema converts a JSON Schema map into Gemini's schema subset.
// Keywords Gemini does not understand (minimum, format, minItems) are left to local validation.
func toGenaiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}

	switch t := m["type"].(type) {
	case string:
		s.Type = genaiType(t)
	case []string:
		for _, name := range t {
			if name == "null" {
				s.Nullable = true
				continue
			}
			s.Type = genaiType(name)
		}
	}

	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = append([]string(nil), req...)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}

func genaiType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}
