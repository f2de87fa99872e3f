package bifaci

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchemaJSON accepts anything shaped like an Envelope. Extra fields
// are allowed; only type and id are required.
const envelopeSchemaJSON = `{
	"type": "object",
	"required": ["type", "id"],
	"properties": {
		"type":    {"type": "string"},
		"id":      {"type": "integer", "minimum": 0},
		"error":   {"type": ["string", "null"]},
		"isReply": {"type": "boolean"}
	}
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *gojsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*gojsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		envelopeSchema, envelopeSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchemaJSON))
	})
	return envelopeSchema, envelopeSchemaErr
}

// validateEnvelopeJSON checks that data is a JSON object with a string type
// and a numeric id.
func validateEnvelopeJSON(data []byte) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return fmt.Errorf("envelope schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return notEnvelope("%v", err)
	}
	if !result.Valid() {
		return notEnvelope("%s", joinResultErrors(result.Errors()))
	}
	return nil
}

// SchemaValidationError reports a payload that does not conform to the
// schema declared for its message type.
type SchemaValidationError struct {
	MessageType string
	Details     string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("Schema validation failed for %s: %s", e.MessageType, e.Details)
}

// PayloadSchema is a compiled JSON Schema for request payloads of one
// message type.
type PayloadSchema struct {
	schema *gojsonschema.Schema
}

// CompilePayloadSchema compiles a JSON Schema document.
func CompilePayloadSchema(schemaJSON string) (*PayloadSchema, error) {
	if !json.Valid([]byte(schemaJSON)) {
		return nil, fmt.Errorf("payload schema is not valid JSON")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	return &PayloadSchema{schema: schema}, nil
}

// Validate checks p against the schema. A null payload is validated as JSON null.
func (s *PayloadSchema) Validate(msgType string, p Payload) error {
	if s == nil {
		return nil
	}
	doc := []byte(p)
	if len(doc) == 0 {
		doc = nullPayload
	}
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &SchemaValidationError{MessageType: msgType, Details: err.Error()}
	}
	if !result.Valid() {
		return &SchemaValidationError{MessageType: msgType, Details: joinResultErrors(result.Errors())}
	}
	return nil
}

func joinResultErrors(errs []gojsonschema.ResultError) string {
	details := make([]string, 0, len(errs))
	for _, desc := range errs {
		details = append(details, desc.String())
	}
	return strings.Join(details, "; ")
}
