package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
	"github.com/gorilla/websocket"
)

// Envelope is one request frame on the collection socket.
type Envelope struct {
	ID       string            `json:"id"`
	Endpoint tracking.Endpoint `json:"endpoint"`
	Body     tracking.Payload  `json:"body"`
}

// Reply is the frame the collector answers an Envelope with.
type Reply struct {
	ID     string            `json:"id"`
	Status int               `json:"status"`
	Body   tracking.Response `json:"body"`
	Error  string            `json:"error,omitempty"`
}

// WebSocketConfig configures WebSocketTransport.
type WebSocketConfig struct {
	URL      string
	APIKey   string
	Timeout  time.Duration
	TokenTTL time.Duration
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
}

// WebSocketTransport multiplexes calls over one connection, one call at a
// time. Safe for concurrent use.
type WebSocketTransport struct {
	url     string
	signer  *security.TokenSigner
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ tracking.Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport validates cfg; the connection is dialled on first use.
func NewWebSocketTransport(cfg WebSocketConfig) (*WebSocketTransport, error) {
	if cfg.URL == "" {
		return nil, errors.New("collection socket URL is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &WebSocketTransport{
		url:     cfg.URL,
		dialer:  dialer,
		timeout: timeout,
		logger:  orDiscard(cfg.Logger),
	}
	if cfg.APIKey != "" {
		signer, err := security.NewTokenSigner(cfg.APIKey, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		t.signer = signer
	}
	return t, nil
}

// Post writes an envelope and waits for the reply carrying the same id.
// Replies to earlier abandoned calls are discarded.
func (t *WebSocketTransport) Post(ctx context.Context, endpoint tracking.Endpoint, body tracking.Payload) (tracking.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	env := Envelope{ID: security.GenerateULID(), Endpoint: endpoint, Body: body}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		t.drop()
		return nil, fmt.Errorf("collection socket write failed: %w", err)
	}

	conn.SetReadDeadline(deadline)
	for {
		var reply Reply
		if err := conn.ReadJSON(&reply); err != nil {
			t.drop()
			return nil, fmt.Errorf("collection socket read failed: %w", err)
		}
		if reply.ID != env.ID {
			t.logger.Debug("Discarding stale collection reply", "replyId", reply.ID)
			continue
		}
		if reply.Status != 0 && (reply.Status < 200 || reply.Status >= 300) {
			return nil, &StatusError{Endpoint: endpoint, StatusCode: reply.Status, Body: reply.Error}
		}
		if reply.Body == nil {
			reply.Body = tracking.Response{}
		}
		return reply.Body, nil
	}
}

// Close closes the connection if one is open.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *WebSocketTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	header := http.Header{}
	if t.signer != nil {
		token, err := t.signer.Sign("", "socket")
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, resp, err := t.dialer.DialContext(dialCtx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Endpoint: "socket", StatusCode: resp.StatusCode, Body: resp.Status}
		}
		return nil, fmt.Errorf("collection socket dial failed: %w", err)
	}
	t.logger.Info("Collection socket connected", "url", t.url)
	t.conn = conn
	return conn, nil
}

func (t *WebSocketTransport) drop() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
