package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open socket.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer         *websocket.Dialer
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// NewWebsocketDialer returns a dialer with the package defaults.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, resp, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.MaxMessageSize > 0 {
		c.SetReadLimit(d.MaxMessageSize)
	}
	return &wsTransport{conn: c, writeTimeout: d.WriteTimeout}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return t.conn.Close()
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// SocketURL builds the feature socket address from the page origin: wss for
// an https origin, ws otherwise, same host.
func SocketURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("origin has no host")
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: path}).String(), nil
}

// NetworkMonitor answers the navigator.onLine question.
type NetworkMonitor interface {
	Online() bool
}

// AlwaysOnline never reports an outage.
type AlwaysOnline struct{}

// Online implements NetworkMonitor.
func (AlwaysOnline) Online() bool { return true }

// ProbeMonitor treats the host as reachable when a TCP dial succeeds.
type ProbeMonitor struct {
	Address string
	Timeout time.Duration
}

// Online implements NetworkMonitor.
func (p ProbeMonitor) Online() bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	c, err := net.DialTimeout("tcp", p.Address, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// ProbeAddress derives host:port from a socket URL for ProbeMonitor.
func ProbeAddress(socketURL string) (string, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return "", err
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "wss" || u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
