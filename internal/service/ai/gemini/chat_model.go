// Package gemini adapts the Google Gen AI SDK to eino's chat model contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config describes a Gemini backend.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// generator is the subset of *genai.Models the adapter calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ChatModel implements model.BaseChatModel on top of generateContent.
type ChatModel struct {
	models generator
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// ErrBlocked is returned when the API answers without a usable candidate.
var ErrBlocked = errors.New("gemini returned no candidates")

// NewChatModel creates a client for the Gemini API backend.
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return newChatModel(client.Models, *cfg), nil
}

func newChatModel(models generator, cfg Config) *ChatModel {
	return &ChatModel{models: models, cfg: cfg}
}

// Generate sends input as one generateContent request.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.cfg.Model,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	contents, config := buildRequest(input, options)
	if len(contents) == 0 {
		return nil, errors.New("gemini: empty input")
	}

	resp, err := m.models.GenerateContent(ctx, *options.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream is served from a single Generate call.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// buildRequest maps eino messages onto Gemini contents. System messages become
// the system instruction; when nothing else is left the instruction is sent
// as the only user content, since generateContent rejects an empty body.
func buildRequest(input []*schema.Message, options *model.Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
	}

	instruction := strings.Join(system, "\n\n")
	switch {
	case instruction == "":
	case len(contents) == 0:
		contents = append(contents, genai.NewContentFromText(instruction, genai.RoleUser))
	default:
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	return contents, config
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrBlocked
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
