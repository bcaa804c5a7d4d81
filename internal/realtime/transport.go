package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	readTimeout = 75 * time.Second
)

// Credentials authenticate one session. They come from the auth layer; the
// manager never refreshes them.
type Credentials struct {
	Token  string
	UserId string
}

// Conn is one established transport connection. ReadMessage is only called from
// the manager's read loop and WriteMessage is serialized by the manager.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// WebsocketDialer opens gorilla/websocket connections to a fixed endpoint.
type WebsocketDialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketDialer(rawURL string, handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", creds.Token)
	q.Set("userId", creds.UserId)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	c := &wsConn{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	return c, nil
}

// wsConn relies on the manager to serialize writes. Close only uses
// WriteControl, which gorilla allows concurrently with other writes.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
