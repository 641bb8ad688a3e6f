// Package models: canonical inbound webhook event and payload normalization.
//
// The upstream WhatsApp gateway does not have a stable schema, so the raw
// payload is normalized into one canonical InboundEvent and only the
// canonical struct is ever validated.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field-name aliases accepted from the upstream gateway, in lookup order.
var (
	senderAliases    = []string{"sender", "phone", "from", "number", "wa_number"}
	messageAliases   = []string{"message", "text", "body"}
	deviceAliases    = []string{"device", "device_id", "gateway", "instance"}
	messageIDAliases = []string{"id", "message_id", "msg_id"}
	timestampAliases = []string{"timestamp", "time", "date"}
	pollNameAliases  = []string{"poll_name", "poll"}
	pollOptAliases   = []string{"selected_option", "option", "choice", "vote"}
)

// MinSenderDigits is the minimum digit count for a sender after normalization.
const MinSenderDigits = 6

// InboundEvent is the canonical form of one inbound webhook event.
type InboundEvent struct {
	MessageID      string    `json:"message_id,omitempty"`
	Sender         string    `json:"sender"`
	Message        string    `json:"message"`
	DeviceID       string    `json:"device_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	PollName       string    `json:"poll_name,omitempty"`
	SelectedOption string    `json:"selected_option,omitempty"`
}

// IsPollResponse reports whether the event carries a structured poll reply.
func (e *InboundEvent) IsPollResponse() bool {
	return e.PollName != "" && e.SelectedOption != ""
}

// Text returns the message content used for classification: the selected
// poll option when present, otherwise the free text.
func (e *InboundEvent) Text() string {
	if e.IsPollResponse() {
		return e.SelectedOption
	}
	return e.Message
}

// Fingerprint returns a stable hash identifying the logical event. The
// upstream message id is preferred; when the gateway omits it the fallback
// is the (sender, timestamp, text) triple.
func (e *InboundEvent) Fingerprint() string {
	var seed string
	if e.MessageID != "" {
		seed = "id:" + e.MessageID
	} else {
		seed = fmt.Sprintf("msg:%s|%d|%s", e.Sender, e.Timestamp.Unix(), e.Text())
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// FieldIssue describes one invalid or missing webhook field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PayloadValidationError carries field-level issues for a malformed payload.
type PayloadValidationError struct {
	Issues []FieldIssue `json:"issues"`
}

func (e *PayloadValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, iss.Field+": "+iss.Message)
	}
	return "invalid webhook payload: " + strings.Join(parts, "; ")
}

// NormalizeWebhookPayload converts a raw decoded payload into the canonical
// InboundEvent, resolving field-name aliases and coercing loose types. It
// returns a PayloadValidationError when required fields are missing after
// normalization; the raw input is never validated directly.
func NormalizeWebhookPayload(raw map[string]any, now time.Time) (*InboundEvent, error) {
	ev := &InboundEvent{
		MessageID:      firstString(raw, messageIDAliases),
		Sender:         strings.TrimSpace(firstString(raw, senderAliases)),
		Message:        strings.TrimSpace(firstString(raw, messageAliases)),
		DeviceID:       firstString(raw, deviceAliases),
		PollName:       strings.TrimSpace(firstString(raw, pollNameAliases)),
		SelectedOption: strings.TrimSpace(firstString(raw, pollOptAliases)),
		Timestamp:      parseTimestamp(raw, now),
	}

	var issues []FieldIssue
	if digits := countDigits(ev.Sender); digits < MinSenderDigits {
		issues = append(issues, FieldIssue{
			Field:   "sender",
			Message: fmt.Sprintf("sender must contain at least %d digits", MinSenderDigits),
		})
	}
	if ev.Message == "" && !ev.IsPollResponse() {
		issues = append(issues, FieldIssue{Field: "message", Message: "message is required"})
	}
	if ev.PollName != "" && ev.SelectedOption == "" {
		issues = append(issues, FieldIssue{Field: "selected_option", Message: "selected_option is required for poll responses"})
	}
	if len(issues) > 0 {
		return nil, &PayloadValidationError{Issues: issues}
	}
	return ev, nil
}

// firstString returns the first alias present in raw as a non-empty string.
func firstString(raw map[string]any, aliases []string) string {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			// Gateways occasionally send phone numbers or ids as JSON numbers.
			return strconv.FormatInt(int64(s), 10)
		case int64:
			return strconv.FormatInt(s, 10)
		}
	}
	return ""
}

// parseTimestamp accepts unix seconds, unix milliseconds, or RFC3339 strings.
// Anything unparseable falls back to the receive time.
func parseTimestamp(raw map[string]any, now time.Time) time.Time {
	for _, key := range timestampAliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch ts := v.(type) {
		case float64:
			return fromUnixLoose(int64(ts))
		case int64:
			return fromUnixLoose(ts)
		case string:
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return t
			}
			if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
				return fromUnixLoose(n)
			}
		}
	}
	return now
}

// fromUnixLoose treats values that look like milliseconds as milliseconds.
func fromUnixLoose(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
