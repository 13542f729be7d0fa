package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a WebSocket echo server standing in for the hosted API.
// It records the query string and headers of the dial request.
type fakeUpstream struct {
	srv     *httptest.Server
	gotKey  chan string
	gotAuth chan string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		gotKey:  make(chan string, 1),
		gotAuth: make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.gotKey <- r.URL.Query().Get("key")
		f.gotAuth <- r.Header.Get("Authorization")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// startProxy serves a relay proxy over httptest and returns a dialer target.
func startProxy(t *testing.T, cfg Config) string {
	t.Helper()

	cfg.Logger = quietLogger()
	p := NewProxy(cfg)
	srv := httptest.NewServer(http.HandlerFunc(p.Serve))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRelay_APIMode_EndToEnd(t *testing.T) {
	t.Parallel()

	upstream := newFakeUpstream(t)
	target := startProxy(t, Config{
		Mode:         ModeAPI,
		APIKey:       "secret-key",
		DefaultModel: fallback,
		Endpoint:     upstream.wsURL(),
	})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	// Handshake: API mode ignores whatever URL the client supplies.
	require.NoError(t, client.WriteJSON(map[string]string{"service_url": "wss://ignored.example"}))

	// The setup frame must reach the upstream rewritten for the hosted API.
	setup := `{"setup":{"model":"gemini-live-2.5-flash-native-audio","proactivity":{}}}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(setup)))

	require.Equal(t, "secret-key", <-upstream.gotKey, "api key travels in the upstream url only")

	_, echoed, err := client.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Setup map[string]any `json:"setup"`
	}
	require.NoError(t, json.Unmarshal(echoed, &frame))
	require.Equal(t, "models/gemini-2.5-flash-native-audio-preview-12-2025", frame.Setup["model"])
	require.NotContains(t, frame.Setup, "proactivity")

	// Subsequent non-setup frames pass through untouched, both directions.
	audio := `{"realtime_input":{"media_chunks":["aGk="]}}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(audio)))
	_, echoed, err = client.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, audio, string(echoed))
}

func TestRelay_VertexMode_ForwardsBearerToken(t *testing.T) {
	t.Parallel()

	upstream := newFakeUpstream(t)
	target := startProxy(t, Config{
		Mode:   ModeVertex,
		Tokens: staticTokenSource("minted-token"),
	})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	// No bearer token in the handshake: the proxy mints one itself.
	require.NoError(t, client.WriteJSON(map[string]string{"service_url": upstream.wsURL()}))

	msg := `{"setup":{"model":"projects/p/locations/l/publishers/google/models/m"}}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(msg)))

	require.Equal(t, "Bearer minted-token", <-upstream.gotAuth)

	// Vertex mode forwards frames verbatim, no setup rewriting.
	_, echoed, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, msg, string(echoed))
}

func TestRelay_VertexMode_ClientTokenWins(t *testing.T) {
	t.Parallel()

	upstream := newFakeUpstream(t)
	target := startProxy(t, Config{
		Mode:   ModeVertex,
		Tokens: staticTokenSource("should-not-be-used"),
	})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{
		"bearer_token": "client-token",
		"service_url":  upstream.wsURL(),
	}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{}`)))

	require.Equal(t, "Bearer client-token", <-upstream.gotAuth)
}

func TestRelay_VertexMode_MissingServiceURL(t *testing.T) {
	t.Parallel()

	target := startProxy(t, Config{
		Mode:   ModeVertex,
		Tokens: staticTokenSource("tok"),
	})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{}))

	_, _, err = client.ReadMessage()
	requireCloseCode(t, err, websocket.ClosePolicyViolation)
}

func TestRelay_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	target := startProxy(t, Config{
		Mode:             ModeAPI,
		APIKey:           "k",
		HandshakeTimeout: 100 * time.Millisecond,
	})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	// Send nothing: the proxy must give up and close with a policy code.
	_, _, err = client.ReadMessage()
	requireCloseCode(t, err, websocket.ClosePolicyViolation)
}

func TestRelay_BadHandshakeJSON(t *testing.T) {
	t.Parallel()

	target := startProxy(t, Config{Mode: ModeAPI, APIKey: "k"})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	_, _, err = client.ReadMessage()
	requireCloseCode(t, err, websocket.ClosePolicyViolation)
}

func TestRelay_APIMode_MissingKey(t *testing.T) {
	t.Parallel()

	target := startProxy(t, Config{Mode: ModeAPI})

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{}))

	_, _, err = client.ReadMessage()
	requireCloseCode(t, err, websocket.ClosePolicyViolation)
}

func requireCloseCode(t *testing.T, err error, want int) {
	t.Helper()

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, want, closeErr.Code)
}
