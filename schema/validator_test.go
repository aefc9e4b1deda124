package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func validPayload(overrides map[string]any) json.RawMessage {
	base := map[string]any{
		"payload_version": "v1",
		"sender_identity": "digest@example.com",
		"subject":         "Weekly digest #42",
		"body_text":       "Some long enough newsletter body text.",
	}
	for key, value := range overrides {
		if value == nil {
			delete(base, key)
			continue
		}
		base[key] = value
	}
	payload, _ := json.Marshal(base)
	return payload
}

func TestValidateInboundDocument_Valid(t *testing.T) {
	t.Parallel()

	doc, err := ValidateInboundDocument(validPayload(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.SenderIdentity != "digest@example.com" {
		t.Fatalf("unexpected sender identity: %q", doc.SenderIdentity)
	}
	if doc.BodyText == nil || *doc.BodyText == "" {
		t.Fatalf("expected body_text to be populated")
	}
}

func TestValidateInboundDocument_HTMLOnlyBody(t *testing.T) {
	t.Parallel()

	payload := validPayload(map[string]any{
		"body_text": nil,
		"body_html": "<p>hello</p>",
	})
	if _, err := ValidateInboundDocument(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInboundDocument_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{
			name:      "missing body",
			overrides: map[string]any{"body_text": nil},
			wantErr:   "schema validation failed",
		},
		{
			name:      "wrong version",
			overrides: map[string]any{"payload_version": "v2"},
			wantErr:   "schema validation failed",
		},
		{
			name:      "blank subject",
			overrides: map[string]any{"subject": " "},
			wantErr:   "subject must not be empty",
		},
		{
			name:      "bad received_at",
			overrides: map[string]any{"received_at": "yesterday"},
			wantErr:   "schema validation failed",
		},
		{
			name:      "unknown field",
			overrides: map[string]any{"surprise": true},
			wantErr:   "schema validation failed",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ValidateInboundDocument(validPayload(tc.overrides))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateInboundDocument_TrailingContent(t *testing.T) {
	t.Parallel()

	payload := append([]byte(nil), validPayload(nil)...)
	payload = append(payload, []byte(`{"extra":true}`)...)

	if _, err := ValidateInboundDocument(payload); err == nil {
		t.Fatalf("expected trailing content to be rejected")
	}
}
