package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed inbound_document.schema.json
var inboundDocumentSchemaJSON string

// InboundDocument is one newsletter-style document handed to ingestion.
type InboundDocument struct {
	PayloadVersion string  `json:"payload_version"`
	SenderIdentity string  `json:"sender_identity"`
	SenderName     *string `json:"sender_name,omitempty"`
	Subject        string  `json:"subject"`
	BodyText       *string `json:"body_text,omitempty"`
	BodyHTML       *string `json:"body_html,omitempty"`
	ReceivedAt     *string `json:"received_at,omitempty"`
	UserID         *string `json:"user_id,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateInboundDocument(payload json.RawMessage) (*InboundDocument, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var doc InboundDocument
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("inbound_document.schema.json", strings.NewReader(inboundDocumentSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("inbound_document.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(doc *InboundDocument) error {
	if doc == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(doc.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(doc.SenderIdentity) == "" {
		return fmt.Errorf("sender_identity must not be empty")
	}
	if strings.TrimSpace(doc.Subject) == "" {
		return fmt.Errorf("subject must not be empty")
	}

	bodyText := ""
	if doc.BodyText != nil {
		bodyText = strings.TrimSpace(*doc.BodyText)
	}
	bodyHTML := ""
	if doc.BodyHTML != nil {
		bodyHTML = strings.TrimSpace(*doc.BodyHTML)
	}
	if bodyText == "" && bodyHTML == "" {
		return fmt.Errorf("one of body_text or body_html is required")
	}

	if doc.ReceivedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*doc.ReceivedAt)); err != nil {
			return fmt.Errorf("received_at must be RFC3339: %w", err)
		}
	}

	return nil
}
