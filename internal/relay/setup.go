package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// modelAliases maps Vertex-style live model names to their hosted-API
// equivalents. Clients built against the Vertex endpoint send the former;
// the hosted API only accepts the latter.
var modelAliases = map[string]string{
	"gemini-live-2.5-flash-native-audio":                 "gemini-2.5-flash-native-audio-preview-12-2025",
	"gemini-live-2.5-flash-preview-native-audio-09-2025": "gemini-2.5-flash-native-audio-preview-12-2025",
	"gemini-2.0-flash-exp":                               "gemini-2.0-flash-exp",
	"gemini-1.5-pro":                                     "gemini-1.5-pro",
	"gemini-1.5-flash":                                   "gemini-1.5-flash",
}

// mapModel converts a Vertex model name to a hosted-API model name, falling
// back to fallback for unknown Vertex-style names.
func mapModel(name, fallback string) string {
	if mapped, ok := modelAliases[name]; ok {
		return mapped
	}
	if !strings.HasPrefix(name, "gemini-live-") {
		// Already a hosted-API name.
		return name
	}
	return fallback
}

// extractModelName takes a model reference in Vertex resource form
// ("projects/{p}/locations/{l}/publishers/google/models/{m}") or a bare name
// and returns the hosted-API form, which requires the "models/" prefix.
func extractModelName(modelURI, fallback string) string {
	if modelURI == "" {
		return "models/" + fallback
	}

	name := modelURI
	if idx := strings.LastIndex(modelURI, "/models/"); idx >= 0 {
		name = modelURI[idx+len("/models/"):]
	}

	name = mapModel(name, fallback)
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}
	return name
}

// setupFieldsUnsupported lists Vertex-only setup fields the hosted API
// rejects.
var setupFieldsUnsupported = []string{"proactivity"}

// genConfigFieldsUnsupported lists Vertex-only generation_config fields the
// hosted API rejects.
var genConfigFieldsUnsupported = []string{"enable_affective_dialog"}

// transformSetup rewrites a client frame for hosted-API compatibility:
// the model reference is converted to "models/{name}" form and Vertex-only
// fields are stripped. Frames without a "setup" key pass through untouched.
// The second return value reports whether the frame was rewritten.
func transformSetup(raw []byte, fallbackModel string) ([]byte, bool, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, false, fmt.Errorf("decode client frame: %w", err)
	}

	setupRaw, ok := frame["setup"]
	if !ok {
		return raw, false, nil
	}

	var setup map[string]any
	if err := json.Unmarshal(setupRaw, &setup); err != nil {
		return nil, false, fmt.Errorf("decode setup message: %w", err)
	}

	if model, ok := setup["model"].(string); ok {
		setup["model"] = extractModelName(model, fallbackModel)
	}
	for _, field := range setupFieldsUnsupported {
		delete(setup, field)
	}
	if genCfg, ok := setup["generation_config"].(map[string]any); ok {
		for _, field := range genConfigFieldsUnsupported {
			delete(genCfg, field)
		}
	}

	rewritten, err := json.Marshal(setup)
	if err != nil {
		return nil, false, fmt.Errorf("encode setup message: %w", err)
	}
	frame["setup"] = rewritten

	out, err := json.Marshal(frame)
	if err != nil {
		return nil, false, fmt.Errorf("encode client frame: %w", err)
	}
	return out, true, nil
}
