package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"
)

// OpenAPIHandler serves the API description
type OpenAPIHandler struct {
	spec []byte
	json []byte
	err  error
}

// NewOpenAPIHandler creates a handler for a YAML document. The JSON form is
// converted once up front.
func NewOpenAPIHandler(spec []byte) *OpenAPIHandler {
	h := &OpenAPIHandler{spec: spec}
	var doc map[string]any
	if err := yaml.Unmarshal(spec, &doc); err != nil {
		h.err = err
		return h
	}
	h.json, h.err = json.Marshal(doc)
	return h
}

// Err reports whether the document failed to parse
func (h *OpenAPIHandler) Err() error {
	return h.err
}

// RegisterRoutes registers OpenAPI routes
func (h *OpenAPIHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/openapi.yaml", h.ServeYAML).Methods("GET")
	r.HandleFunc("/api/v1/openapi.json", h.ServeJSON).Methods("GET")
}

// ServeYAML serves the OpenAPI document as YAML
func (h *OpenAPIHandler) ServeYAML(w http.ResponseWriter, r *http.Request) {
	if len(h.spec) == 0 {
		http.Error(w, "OpenAPI specification not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	_, _ = w.Write(h.spec)
}

// ServeJSON serves the OpenAPI document as JSON
func (h *OpenAPIHandler) ServeJSON(w http.ResponseWriter, r *http.Request) {
	if h.err != nil || len(h.json) == 0 {
		http.Error(w, "Failed to parse OpenAPI specification", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.json)
}
