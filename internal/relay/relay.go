// Package relay bridges browser WebSocket clients to the hosted voice AI
// endpoint. It authenticates upstream with credentials the browser never
// sees and forwards frames verbatim in both directions.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Mode selects which upstream flavor the proxy talks to.
type Mode string

const (
	// ModeVertex dials the client-supplied service URL with a bearer token.
	ModeVertex Mode = "vertex"
	// ModeAPI dials the hosted generative-language endpoint with an API key,
	// ignoring any client-supplied URL.
	ModeAPI Mode = "api"
)

const hostedEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config configures the relay proxy.
type Config struct {
	Mode             Mode
	DefaultModel     string
	APIKey           string
	Endpoint         string // overrides the hosted endpoint in ModeAPI; tests use this
	HandshakeTimeout time.Duration
	Debug            bool
	Tokens           TokenSource
	Logger           *logrus.Logger
}

// Proxy upgrades client connections and relays them upstream.
type Proxy struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// NewProxy returns a relay proxy for the given configuration.
func NewProxy(cfg Config) *Proxy {
	if cfg.Mode == "" {
		cfg.Mode = ModeAPI
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = hostedEndpoint
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewADCTokenSource()
	}
	return &Proxy{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The browser client is served from a different origin in the
			// demo deployment; credentials never come from the client side.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
	}
}

// handshake is the first frame a client must send after connecting.
type handshake struct {
	BearerToken string `json:"bearer_token"`
	ServiceURL  string `json:"service_url"`
}

// Serve upgrades the request and runs the relay session until either side
// disconnects.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request) {
	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.cfg.Logger.Warnf("relay: upgrade failed: %v", err)
		return
	}
	defer client.Close()

	sessionID := uuid.NewString()
	log := p.cfg.Logger.WithField("session", sessionID)
	log.Info("relay: client connected")

	hs, err := p.readHandshake(client)
	if err != nil {
		log.Warnf("relay: handshake failed: %v", err)
		closeWith(client, websocket.ClosePolicyViolation, err.Error())
		return
	}

	target, header, err := p.resolveUpstream(r, hs)
	if err != nil {
		log.Warnf("relay: %v", err)
		closeWith(client, websocket.ClosePolicyViolation, err.Error())
		return
	}

	upstream, resp, err := p.dialer.Dial(target, header)
	if err != nil {
		if resp != nil {
			log.Warnf("relay: upstream dial failed: %v (status %d)", err, resp.StatusCode)
		} else {
			log.Warnf("relay: upstream dial failed: %v", err)
		}
		closeWith(client, websocket.ClosePolicyViolation, "upstream connection failed")
		return
	}
	defer upstream.Close()
	log.Info("relay: connected to upstream")

	p.run(log, client, upstream)
	log.Info("relay: session closed")
}

// readHandshake waits for the first client frame and decodes it.
func (p *Proxy) readHandshake(client *websocket.Conn) (handshake, error) {
	if err := client.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout)); err != nil {
		return handshake{}, fmt.Errorf("set handshake deadline: %w", err)
	}
	defer client.SetReadDeadline(time.Time{})

	_, raw, err := client.ReadMessage()
	if err != nil {
		// The underlying error carries peer addresses; keep the close
		// reason short so it fits in a control frame.
		return handshake{}, fmt.Errorf("timeout waiting for client handshake")
	}

	var hs handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		return handshake{}, fmt.Errorf("invalid handshake json")
	}
	return hs, nil
}

// resolveUpstream turns the handshake into a dial target and headers for the
// configured mode.
func (p *Proxy) resolveUpstream(r *http.Request, hs handshake) (string, http.Header, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	switch p.cfg.Mode {
	case ModeAPI:
		if p.cfg.APIKey == "" {
			return "", nil, fmt.Errorf("api key is not configured")
		}
		// The hosted endpoint always wins over whatever the client asked for.
		u, err := url.Parse(p.cfg.Endpoint)
		if err != nil {
			return "", nil, fmt.Errorf("parse hosted endpoint: %w", err)
		}
		q := u.Query()
		q.Set("key", p.cfg.APIKey)
		u.RawQuery = q.Encode()
		return u.String(), header, nil

	case ModeVertex:
		if hs.ServiceURL == "" {
			return "", nil, fmt.Errorf("service url is required")
		}
		token := hs.BearerToken
		if token == "" {
			minted, err := p.cfg.Tokens.Token(r.Context())
			if err != nil {
				return "", nil, fmt.Errorf("authentication failed: %w", err)
			}
			token = minted
		}
		header.Set("Authorization", "Bearer "+token)
		return hs.ServiceURL, header, nil

	default:
		return "", nil, fmt.Errorf("unknown relay mode %q", p.cfg.Mode)
	}
}

// run pumps frames in both directions until one side fails, then tears down
// the other.
func (p *Proxy) run(log *logrus.Entry, client, upstream *websocket.Conn) {
	errc := make(chan error, 2)

	var clientTransform frameTransform
	if p.cfg.Mode == ModeAPI {
		clientTransform = func(raw []byte) ([]byte, error) {
			out, rewritten, err := transformSetup(raw, p.cfg.DefaultModel)
			if err != nil {
				return nil, err
			}
			if rewritten && p.cfg.Debug {
				log.Debugf("relay: rewrote setup message for hosted api")
			}
			return out, nil
		}
	}

	go pump(client, upstream, clientTransform, errc)
	go pump(upstream, client, nil, errc)

	err := <-errc
	if closeErr, ok := err.(*websocket.CloseError); ok {
		log.Infof("relay: connection closed: %d %s", closeErr.Code, closeErr.Text)
	} else if err != nil {
		log.Warnf("relay: pump error: %v", err)
	}

	// Closing both ends unblocks the remaining pump goroutine.
	client.Close()
	upstream.Close()
	<-errc
}

// frameTransform optionally rewrites a text frame before forwarding.
type frameTransform func([]byte) ([]byte, error)

// pump copies frames from src to dst until src fails. Text frames may be
// rewritten; binary frames pass through untouched. A src close frame is
// propagated to dst with its original code and reason.
func pump(src, dst *websocket.Conn, transform frameTransform, errc chan<- error) {
	for {
		msgType, raw, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				closeWith(dst, closeErr.Code, closeErr.Text)
			}
			errc <- err
			return
		}

		if msgType == websocket.TextMessage && transform != nil {
			raw, err = transform(raw)
			if err != nil {
				errc <- err
				return
			}
		}

		if err := dst.WriteMessage(msgType, raw); err != nil {
			errc <- err
			return
		}
	}
}

// closeWith sends a close frame and shuts the connection down. The reason is
// truncated to fit the 125-byte control frame payload.
func closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
