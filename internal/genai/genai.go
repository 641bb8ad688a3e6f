// Package genai provides intent classification for free-form patient
// messages using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultTimeout bounds one classification call. The webhook handler waits on
// this, so it must stay well under the upstream gateway's own timeout.
const DefaultTimeout = 10 * time.Second

const systemPrompt = `You are the message classifier for an Indonesian medication reminder service for cancer patients, operated by care volunteers.
Classify the patient's WhatsApp message and reply with a single JSON object, no markdown, with fields:
  "intent": one of "emergency", "medication_question", "side_effect_report", "confirmation", "general", "unknown"
  "confidence": number between 0 and 1
  "response_type": "auto_reply" or "none"
  "message": the reply to send to the patient in Indonesian (when response_type is auto_reply)
  "actions": optional array of {"type": ..., "data": {...}} follow-up actions.
Supported action types: "log_confirmation", "send_followup", "notify_volunteer", "update_patient_status", "create_manual_confirmation".
Messages describing severe symptoms, overdose or self-harm are "emergency" and must include a notify_volunteer action with priority "urgent".
Never give medical advice beyond suggesting the patient contact their volunteer or doctor.`

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service for intent classification.
type Client struct {
	chat    chatService
	model   string
	timeout time.Duration
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout, Model: openai.ChatModelGPT4oMini}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// ClassifyIntent classifies one patient message. recentMessages is the short
// conversation history, oldest first, used as context for the model.
func (c *Client) ClassifyIntent(ctx context.Context, patient *models.Patient, text string, recentMessages []models.ConversationMessage) (*models.IntentClassification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Patient verification status: %s\n", patient.VerificationStatus)
	if len(recentMessages) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range recentMessages {
			fmt.Fprintf(&sb, "  [%s] %s\n", m.Direction, m.Body)
		}
	}
	fmt.Fprintf(&sb, "Patient message: %s", text)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		slog.Error("GenAI ClassifyIntent request failed", "error", err, "patientID", patient.ID)
		return nil, fmt.Errorf("intent classification request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	classification, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Error("GenAI ClassifyIntent parse failed", "error", err, "patientID", patient.ID)
		return nil, err
	}
	slog.Debug("GenAI ClassifyIntent succeeded", "patientID", patient.ID, "intent", classification.Intent, "confidence", classification.Confidence)
	return classification, nil
}

// parseClassification parses the model output into an IntentClassification.
// Models occasionally wrap JSON in a markdown fence despite instructions, so
// fences are stripped before decoding.
func parseClassification(content string) (*models.IntentClassification, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.LastIndex(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}

	var cls models.IntentClassification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}
	if !models.IsValidIntent(cls.Intent) {
		slog.Warn("GenAI returned unsupported intent, coercing to unknown", "intent", cls.Intent)
		cls.Intent = models.IntentUnknown
	}
	if cls.Confidence < 0 {
		cls.Confidence = 0
	}
	if cls.Confidence > 1 {
		cls.Confidence = 1
	}
	if cls.ResponseType == "" {
		cls.ResponseType = models.ResponseTypeNone
	}
	return &cls, nil
}
