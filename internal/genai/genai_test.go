package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService returns a canned completion or error.
type mockChatService struct {
	content string
	err     error
	calls   int
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func testClient(mock *mockChatService) *Client {
	return &Client{chat: mock, model: openai.ChatModelGPT4oMini, timeout: time.Second}
}

func testPatient() *models.Patient {
	return &models.Patient{ID: "p1", VerificationStatus: models.VerificationVerified, IsActive: true}
}

func TestClassifyIntent_ParsesPlainJSON(t *testing.T) {
	mock := &mockChatService{content: `{"intent":"medication_question","confidence":0.9,"response_type":"auto_reply","message":"Silakan hubungi relawan Anda."}`}
	c := testClient(mock)

	cls, err := c.ClassifyIntent(context.Background(), testPatient(), "obatnya diminum sebelum makan?", nil)
	if err != nil {
		t.Fatalf("ClassifyIntent failed: %v", err)
	}
	if cls.Intent != models.IntentMedicationQuestion {
		t.Errorf("expected medication_question, got %s", cls.Intent)
	}
	if cls.ResponseType != models.ResponseTypeAutoReply {
		t.Errorf("expected auto_reply, got %s", cls.ResponseType)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 API call, got %d", mock.calls)
	}
}

func TestClassifyIntent_StripsMarkdownFence(t *testing.T) {
	mock := &mockChatService{content: "```json\n{\"intent\":\"emergency\",\"confidence\":0.95}\n```"}
	c := testClient(mock)

	cls, err := c.ClassifyIntent(context.Background(), testPatient(), "saya sesak napas", nil)
	if err != nil {
		t.Fatalf("ClassifyIntent failed: %v", err)
	}
	if cls.Intent != models.IntentEmergency {
		t.Errorf("expected emergency, got %s", cls.Intent)
	}
}

func TestClassifyIntent_PropagatesError(t *testing.T) {
	mock := &mockChatService{err: errors.New("rate limited")}
	c := testClient(mock)

	if _, err := c.ClassifyIntent(context.Background(), testPatient(), "halo", nil); err == nil {
		t.Fatal("expected error from failing chat service")
	}
}

func TestParseClassification_CoercesUnknownIntent(t *testing.T) {
	cls, err := parseClassification(`{"intent":"weather_report","confidence":0.5}`)
	if err != nil {
		t.Fatalf("parseClassification failed: %v", err)
	}
	if cls.Intent != models.IntentUnknown {
		t.Errorf("expected unsupported intent coerced to unknown, got %s", cls.Intent)
	}
}

func TestParseClassification_ClampsConfidence(t *testing.T) {
	cls, err := parseClassification(`{"intent":"general","confidence":3.2}`)
	if err != nil {
		t.Fatalf("parseClassification failed: %v", err)
	}
	if cls.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %f", cls.Confidence)
	}
}

func TestParseClassification_DefaultsResponseType(t *testing.T) {
	cls, err := parseClassification(`{"intent":"general","confidence":0.4}`)
	if err != nil {
		t.Fatalf("parseClassification failed: %v", err)
	}
	if cls.ResponseType != models.ResponseTypeNone {
		t.Errorf("expected response_type none, got %s", cls.ResponseType)
	}
}

func TestParseClassification_RejectsGarbage(t *testing.T) {
	if _, err := parseClassification("I think the patient wants help"); err == nil {
		t.Fatal("expected error for non-JSON output")
	}
}

func TestParseClassification_ActionsRoundTrip(t *testing.T) {
	cls, err := parseClassification(`{"intent":"emergency","confidence":0.97,"actions":[{"type":"notify_volunteer","data":{"priority":"urgent","reason":"sesak napas"}}]}`)
	if err != nil {
		t.Fatalf("parseClassification failed: %v", err)
	}
	if len(cls.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(cls.Actions))
	}
	params, err := cls.Actions[0].ParseNotifyVolunteerParams()
	if err != nil {
		t.Fatalf("ParseNotifyVolunteerParams failed: %v", err)
	}
	if params.Priority != models.PriorityUrgent {
		t.Errorf("expected urgent priority, got %s", params.Priority)
	}
}
