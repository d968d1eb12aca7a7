// Package api содержит OpenAPI-описание HTTP API сервиса.
package api

import _ "embed"

// OpenAPISpec — api/openapi.json, отдаётся по /swagger/openapi.json.
//
//go:embed openapi.json
var OpenAPISpec []byte
