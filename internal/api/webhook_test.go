package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RumahPulih/ObatPing/internal/flow"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

type discardSender struct{}

func (discardSender) SendReply(ctx context.Context, patientID, phone, body string) error {
	return nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := discardSender{}
	cm := flow.NewConversationManager(st)
	router := flow.NewRouter(
		st,
		flow.NewResolver(st),
		cm,
		flow.NewVerificationFlow(st, cm, sender),
		flow.NewConfirmationFlow(st, cm, sender),
		nil,
		flow.NewActionExecutor(st),
		sender,
		0,
	)
	return NewServer(router, st, opts...), st
}

func postWebhook(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestWebhook_AliasNormalization(t *testing.T) {
	s, st := newTestServer(t)
	p := &models.Patient{
		Name:               "Ibu Sari",
		PhoneNumber:        "6281234567890",
		VerificationStatus: models.VerificationVerified,
		IsActive:           true,
	}
	if err := st.CreatePatient(p); err != nil {
		t.Fatal(err)
	}

	// "from"/"text" instead of "sender"/"message", local phone form.
	rec := postWebhook(t, s, `{"from":"081234567890","text":"halo","id":"wamid.1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	if resp.Message != flow.OutcomeFallbackAck {
		t.Errorf("expected outcome %q, got %q", flow.OutcomeFallbackAck, resp.Message)
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postWebhook(t, s, `{"sender":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}

func TestWebhook_ValidationIssues(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postWebhook(t, s, `{"sender":"abc","poll_name":"konfirmasi"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if len(resp.Issues) == 0 {
		t.Fatal("expected field issues in response")
	}
	fields := map[string]bool{}
	for _, iss := range resp.Issues {
		fields[iss.Field] = true
	}
	for _, want := range []string{"sender", "message", "selected_option"} {
		if !fields[want] {
			t.Errorf("expected issue for field %q, got %+v", want, resp.Issues)
		}
	}
}

func TestWebhook_DuplicateReplay(t *testing.T) {
	s, st := newTestServer(t)
	p := &models.Patient{
		Name:               "Pak Budi",
		PhoneNumber:        "6281234567890",
		VerificationStatus: models.VerificationVerified,
		IsActive:           true,
	}
	if err := st.CreatePatient(p); err != nil {
		t.Fatal(err)
	}

	body := `{"sender":"6281234567890","message":"halo","id":"wamid.dup"}`
	first := postWebhook(t, s, body, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", first.Code)
	}
	if resp := decodeResponse(t, first); resp.Duplicate {
		t.Fatal("first delivery must not be a duplicate")
	}

	second := postWebhook(t, s, body, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", second.Code)
	}
	if resp := decodeResponse(t, second); !resp.Duplicate {
		t.Errorf("replay must report duplicate, got %+v", resp)
	}
}

func TestWebhook_UnknownSenderIgnored(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postWebhook(t, s, `{"sender":"6289999999999","message":"halo"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("expected ignored status, got %q", resp.Status)
	}
	if resp.Message != flow.OutcomeNoPatientMatch {
		t.Errorf("expected reason %q, got %q", flow.OutcomeNoPatientMatch, resp.Message)
	}
}

func TestWebhook_BearerAuth(t *testing.T) {
	s, _ := newTestServer(t, WithAPIToken("secret-token"))

	rec := postWebhook(t, s, `{"sender":"6281234567890","message":"halo"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	rec = postWebhook(t, s, `{"sender":"6281234567890","message":"halo"}`, map[string]string{
		"Authorization": "Bearer wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}

	rec = postWebhook(t, s, `{"sender":"6281234567890","message":"halo"}`, map[string]string{
		"Authorization": "Bearer secret-token",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}
}

func TestHealthEndpointSharesAuth(t *testing.T) {
	s, _ := newTestServer(t, WithAPIToken("secret-token"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	if err := st.AddVolunteerNotification(&models.VolunteerNotification{
		PatientID: "patient-1",
		Message:   "Pasien butuh bantuan",
		Priority:  models.PriorityUrgent,
		Status:    models.NotificationPending,
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/notifications?status=pending", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string                         `json:"status"`
		Result []models.VolunteerNotification `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Result) != 1 {
		t.Fatalf("expected one notification, got %d", len(resp.Result))
	}

	req = httptest.NewRequest(http.MethodGet, "/notifications?status=bogus", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", rec.Code)
	}
}
