package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/models"
)

// Conn is one live channel connection.
type Conn interface {
	// Emit writes an outbound event.
	Emit(ev Outbound) error
	// Done is closed once the connection has stopped delivering events.
	Done() <-chan struct{}
	// Close tears the connection down and returns after the last inbound
	// event has been delivered. It must not be called from the handler.
	Close() error
}

// Dialer opens connections. handler is called sequentially for every
// inbound event until the connection is done.
type Dialer interface {
	Dial(ctx context.Context, credential models.Credential, handler func(Inbound)) (Conn, error)
}

const writeTimeout = 10 * time.Second

// WebsocketDialer dials the backend's websocket endpoint.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// NewWebsocketDialer creates a dialer for the given ws:// or wss:// URL.
func NewWebsocketDialer(rawURL string, logger zerolog.Logger) *WebsocketDialer {
	return &WebsocketDialer{
		URL:    rawURL,
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// Dial authenticates with the credential both as a bearer header and as a
// token query parameter.
func (d *WebsocketDialer) Dial(ctx context.Context, credential models.Credential, handler func(Inbound)) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", string(credential))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+string(credential))

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		ws:      ws,
		handler: handler,
		logger:  d.Logger,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	handler func(Inbound)
	logger  zerolog.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

func (c *wsConn) readLoop() {
	defer close(c.done)

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.closeMu.Lock()
			closing := c.closed
			c.closeMu.Unlock()
			if !closing {
				c.logger.Warn().Err(err).Msg("disconnect")
			}
			return
		}

		ev, err := DecodeInbound(frame)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug().Err(err).Msg("dropping inbound frame")
			} else {
				c.logger.Warn().Err(err).Msg("dropping inbound frame")
			}
			continue
		}
		c.handler(ev)
	}
}

func (c *wsConn) Emit(ev Outbound) error {
	frame, err := EncodeOutbound(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.ws.Close()
	c.writeMu.Unlock()

	<-c.done
	return err
}
