package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const fallback = "gemini-2.5-flash-native-audio-preview-12-2025"

func TestExtractModelName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "vertex resource path",
			in:   "projects/demo/locations/us-central1/publishers/google/models/gemini-live-2.5-flash-native-audio",
			want: "models/gemini-2.5-flash-native-audio-preview-12-2025",
		},
		{
			name: "bare vertex live name",
			in:   "gemini-live-2.5-flash-native-audio",
			want: "models/gemini-2.5-flash-native-audio-preview-12-2025",
		},
		{
			name: "already a hosted-api name",
			in:   "gemini-2.0-flash-exp",
			want: "models/gemini-2.0-flash-exp",
		},
		{
			name: "unknown live name falls back",
			in:   "gemini-live-9.9-something",
			want: "models/" + fallback,
		},
		{
			name: "empty uses fallback",
			in:   "",
			want: "models/" + fallback,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, extractModelName(tc.in, fallback))
		})
	}
}

func TestTransformSetup_RewritesModelAndStripsFields(t *testing.T) {
	t.Parallel()

	in := []byte(`{
		"setup": {
			"model": "projects/p/locations/l/publishers/google/models/gemini-live-2.5-flash-native-audio",
			"proactivity": {"proactive_audio": true},
			"generation_config": {
				"temperature": 0.7,
				"enable_affective_dialog": true
			}
		}
	}`)

	out, rewritten, err := transformSetup(in, fallback)
	require.NoError(t, err)
	require.True(t, rewritten)

	var frame struct {
		Setup map[string]any `json:"setup"`
	}
	require.NoError(t, json.Unmarshal(out, &frame))

	require.Equal(t, "models/gemini-2.5-flash-native-audio-preview-12-2025", frame.Setup["model"])
	require.NotContains(t, frame.Setup, "proactivity")

	genCfg, ok := frame.Setup["generation_config"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, genCfg, "enable_affective_dialog")
	require.Equal(t, 0.7, genCfg["temperature"], "supported fields survive")
}

func TestTransformSetup_PassthroughWithoutSetupKey(t *testing.T) {
	t.Parallel()

	in := []byte(`{"realtime_input":{"media_chunks":[]}}`)

	out, rewritten, err := transformSetup(in, fallback)
	require.NoError(t, err)
	require.False(t, rewritten)
	require.Equal(t, in, out, "non-setup frames are forwarded byte-for-byte")
}

func TestTransformSetup_InvalidJSON(t *testing.T) {
	t.Parallel()

	_, _, err := transformSetup([]byte(`{not json`), fallback)
	require.Error(t, err)
}
