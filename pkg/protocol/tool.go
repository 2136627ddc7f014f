package protocol

import "encoding/json"

// Tool describes a capability exposed by a tool server.
// Parameters is a JSON schema object as reported by the server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Server      string         `json:"server,omitempty"`
}

// ParametersJSON renders the schema for display. A missing schema renders as
// an empty object.
func (t Tool) ParametersJSON() string {
	if len(t.Parameters) == 0 {
		return "{}"
	}
	b, err := json.Marshal(t.Parameters)
	if err != nil {
		return "{}"
	}
	return string(b)
}
