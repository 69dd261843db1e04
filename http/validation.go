package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const definitionsJSON = `
	"definitions": {
		"asset": {
			"type": "object",
			"required": ["code"],
			"properties": {
				"code": {"type": "string", "pattern": "^[a-zA-Z0-9]{1,12}$"},
				"issuer": {"type": "string"}
			}
		},
		"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,7})?$"},
		"balance": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
		"snapshot": {
			"type": "object",
			"required": ["account", "asset", "amount"],
			"properties": {
				"account": {"type": "string", "minLength": 1},
				"asset": {"$ref": "#/definitions/asset"},
				"amount": {"$ref": "#/definitions/balance"},
				"takenAt": {"type": "string", "format": "date-time"}
			}
		}
	}`

const verifyRequestSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["expected"],
	"anyOf": [
		{"required": ["reference"], "properties": {"reference": {"minLength": 1}}},
		{"required": ["previousBalance"]}
	],
	"properties": {
		"network": {"type": "string"},
		"reference": {"type": "string"},
		"expected": {
			"type": "object",
			"required": ["asset", "destination", "amount"],
			"properties": {
				"asset": {"$ref": "#/definitions/asset"},
				"destination": {"type": "string", "minLength": 1},
				"amount": {"$ref": "#/definitions/amount"}
			}
		},
		"previousBalance": {"$ref": "#/definitions/snapshot"}
	},` + definitionsJSON + `
}`

const balanceVerifyRequestSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["previous", "amount"],
	"properties": {
		"network": {"type": "string"},
		"previous": {"$ref": "#/definitions/snapshot"},
		"amount": {"$ref": "#/definitions/amount"}
	},` + definitionsJSON + `
}`

var (
	verifyRequestSchema        = mustCompileSchema(verifyRequestSchemaJSON)
	balanceVerifyRequestSchema = mustCompileSchema(balanceVerifyRequestSchemaJSON)
)

func mustCompileSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// ValidationResult represents the result of validating a request body
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateVerifyRequest checks a POST /verify body against its JSON schema
func ValidateVerifyRequest(body []byte) ValidationResult {
	return validate(verifyRequestSchema, body)
}

// ValidateBalanceVerifyRequest checks a POST /verify/balance body against its JSON schema
func ValidateBalanceVerifyRequest(body []byte) ValidationResult {
	return validate(balanceVerifyRequestSchema, body)
}

func validate(schema *gojsonschema.Schema, body []byte) ValidationResult {
	if len(body) == 0 {
		return ValidationResult{Valid: false, Errors: []string{"request body is empty"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	// Collect errors
	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}

	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}
