package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/z-tavern/relay/internal/metrics"
	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
)

const (
	opGenerate  = "generate"
	opSummarize = "summarize"

	// SummaryFailed is returned by Summarize in place of any error.
	SummaryFailed = "Failed to generate summary."

	summaryInstruction = "Please create an abstractive summary of the following conversation. " +
		"Focus on key topics, decisions, and outcomes. Keep it concise (<=2 sentences).\n\n" +
		"Conversation:\n\n{transcript}"
)

// ErrEmptyCompletion is reported when the backend answers without text.
var ErrEmptyCompletion = errors.New("empty completion")

// ModelError wraps every failure of a completion call.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Service encapsulates completion calls against the configured backend.
// Each call is a single attempt.
type Service struct {
	chatModel model.BaseChatModel
	summary   prompt.ChatTemplate
	tracer    trace.Tracer
	log       *slog.Logger
}

// NewService creates a new AI service instance around chatModel.
func NewService(chatModel model.BaseChatModel, logger *slog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		chatModel: chatModel,
		summary:   prompt.FromMessages(schema.FString, schema.UserMessage(summaryInstruction)),
		tracer:    otel.Tracer("github.com/zhouzirui/z-tavern/relay/internal/service/ai"),
		log:       logger.With("component", "ai"),
	}, nil
}

// Generate sends the transcript to the model and returns the reply text.
// Failures are *ModelError.
func (s *Service) Generate(ctx context.Context, messages []chat.Message) (string, error) {
	return s.complete(ctx, opGenerate, toSchemaMessages(messages))
}

// Summarize asks the model for a short abstractive summary of turns. It never
// fails; any error collapses into SummaryFailed.
func (s *Service) Summarize(ctx context.Context, turns []chat.Turn) string {
	input, err := s.summary.Format(ctx, map[string]any{"transcript": FormatTranscript(turns)})
	if err != nil {
		s.log.Warn("format summary prompt", "error", err)
		return SummaryFailed
	}

	summary, err := s.complete(ctx, opSummarize, input)
	if err != nil {
		s.log.Warn("summary failed", "turns", len(turns), "error", err)
		return SummaryFailed
	}
	return summary
}

// FormatTranscript renders turns as "role: parts" lines.
func FormatTranscript(turns []chat.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Parts)
	}
	return strings.Join(lines, "\n")
}

func (s *Service) complete(ctx context.Context, op string, input []*schema.Message) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ai."+op, trace.WithAttributes(
		attribute.Int("ai.messages", len(input)),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.chatModel.Generate(ctx, input)
	elapsed := time.Since(start)
	metrics.CompletionSeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = ErrEmptyCompletion
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.Completions.WithLabelValues(op, "error").Inc()
		return "", &ModelError{Op: op, Err: err}
	}

	metrics.Completions.WithLabelValues(op, "ok").Inc()
	span.SetAttributes(attribute.Int("ai.reply_length", len(resp.Content)))
	s.log.Debug("completion", "op", op, "messages", len(input), "length", len(resp.Content), "elapsed", elapsed)
	return resp.Content, nil
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}
