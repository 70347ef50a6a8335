package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel answers without a network call. It is selected with
// AI_PROVIDER=mock for local frontend work.
type MockChatModel struct{}

// NewMockChatModel creates a new mock chat model.
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{}
}

var _ model.BaseChatModel = (*MockChatModel)(nil)

// Generate echoes the last user message, or greets when there is none.
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(mockReply(input), nil), nil
}

// Stream returns the Generate reply as a single chunk.
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func mockReply(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			return fmt.Sprintf("[MOCK] Received your message: %q.", truncate(input[i].Content, 100))
		}
	}
	return "[MOCK] Welcome, traveller. Pull up a chair."
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
