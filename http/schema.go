package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request bodies are schema-validated before any dispatch so malformed
// input never reaches the verification engine.
const verifySettleRequestSchema = `{
	"type": "object",
	"required": ["paymentPayload", "paymentRequirements"],
	"properties": {
		"paymentPayload": {
			"type": "object",
			"required": ["x402Version", "payload"],
			"properties": {
				"x402Version": {"type": "integer", "minimum": 1, "maximum": 2},
				"payload": {"type": "object"},
				"accepted": {"type": "object"},
				"scheme": {"type": "string"},
				"network": {"type": "string"},
				"extensions": {"type": "object"}
			}
		},
		"paymentRequirements": {
			"type": "object",
			"required": ["scheme", "network", "asset", "payTo"],
			"properties": {
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string", "pattern": "^[a-z0-9-]+:[a-zA-Z0-9-_*]+$"},
				"asset": {"type": "string", "minLength": 1},
				"amount": {"type": "string", "pattern": "^[0-9]+$"},
				"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
				"payTo": {"type": "string", "minLength": 1},
				"maxTimeoutSeconds": {"type": "integer", "minimum": 0},
				"extra": {"type": "object"}
			}
		}
	}
}`

var requestSchema = gojsonschema.NewStringLoader(verifySettleRequestSchema)

// validateRequestBody checks a verify/settle request body against the
// schema, returning a readable list of violations.
func validateRequestBody(body []byte) error {
	result, err := gojsonschema.Validate(requestSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("request validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}

	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(violations, "; "))
}
