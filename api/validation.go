package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// threatEventSchema is the wire contract for POST /api/v1/threats. The raw
// body is checked against it before decoding so malformed documents fail
// with field errors rather than decoder noise.
const threatEventSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "source", "severity"],
	"additionalProperties": false,
	"properties": {
		"type":        {"type": "string", "minLength": 1, "maxLength": 64},
		"source":      {"type": "string", "minLength": 1, "maxLength": 255},
		"severity":    {"type": "string", "minLength": 1, "maxLength": 32},
		"description": {"type": "string", "maxLength": 2000},
		"confidence":  {"type": "integer", "minimum": 0, "maximum": 100},
		"indicators":  {"type": "array", "maxItems": 64, "items": {"type": "string", "maxLength": 1024}},
		"user_id":     {"type": "string", "maxLength": 128},
		"details":     {"type": "object"}
	}
}`

var (
	threatSchema = mustCompileSchema(threatEventSchema)
	validate     = validator.New()
)

func mustCompileSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid threat event schema: %v", err))
	}
	return schema
}

// validateThreatDocument checks the raw body against the embedded schema and
// returns the collected field errors.
func validateThreatDocument(body []byte) error {
	result, err := threatSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
