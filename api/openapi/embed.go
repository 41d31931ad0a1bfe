// Package openapi embeds the API description served by the server.
package openapi

import _ "embed"

// Spec is the OpenAPI 3 document in YAML
//
//go:embed openapi.yaml
var Spec []byte
