package oidc

import (
	"github.com/xeipuuv/gojsonschema"
)

// refreshResponseSchema is the token endpoint reply to a refresh grant. Every
// field must be present with the right type; extra fields are allowed.
var refreshResponseSchema = mustSchema(`{
	"type": "object",
	"required": [
		"access_token",
		"refresh_token",
		"expires_in",
		"refresh_expires_in",
		"token_type",
		"session_state"
	],
	"properties": {
		"access_token": {"type": "string"},
		"refresh_token": {"type": "string"},
		"expires_in": {"type": "number"},
		"refresh_expires_in": {"type": "number"},
		"token_type": {"type": "string"},
		"session_state": {"type": "string"}
	}
}`)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}
