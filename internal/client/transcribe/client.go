// Package transcribe is the client side of the transcription relay control
// channel: JSON signals and binary audio up, relay events down.
package transcribe

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

const (
	relayPath    = "/ws/transcribe"
	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

// ErrClosed is returned by writes after the connection went away.
var ErrClosed = errors.New("transcription relay connection closed")

// Client 与转写中继的一条长连接
type Client struct {
	conn      *websocket.Conn
	sessionID string
	events    chan speech.RelayEvent

	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// WebSocketURL maps an http(s) server base URL onto the relay endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse server url %q", serverURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + relayPath
	return u.String(), nil
}

// Dial connects and waits for the relay's ready event.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial transcription relay %s", wsURL)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var ready speech.RelayEvent
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "await relay ready")
	}
	if ready.Type != speech.EventReady {
		conn.Close()
		return nil, errors.Errorf("expected ready event, got %q", ready.Type)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		sessionID: ready.SessionID,
		events:    make(chan speech.RelayEvent, eventBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SessionID 中继分配的连接标识
func (c *Client) SessionID() string {
	return c.sessionID
}

// Events delivers relay events in arrival order and is closed when the
// connection ends.
func (c *Client) Events() <-chan speech.RelayEvent {
	return c.events
}

// Done is closed when the connection ends; Err then reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err 连接结束原因；主动 Close 时为 nil
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Start 开始一轮识别；cfg 为 nil 时使用中继默认参数
func (c *Client) Start(cfg *speech.RecognitionConfig) error {
	return c.writeJSON(speech.ControlMessage{Type: speech.SignalStart, Config: cfg})
}

// SendAudio 发送一段编码后的音频
func (c *Client) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return c.write(func() error {
		return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
}

// Stop 请求结束本轮识别；中继保证随后恰好一个 stopped
func (c *Client) Stop() error {
	return c.writeJSON(speech.ControlMessage{Type: speech.SignalStop})
}

// Close 关闭连接
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeJSON(msg speech.ControlMessage) error {
	return c.write(func() error {
		return c.conn.WriteJSON(msg)
	})
}

func (c *Client) write(fn func() error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := fn(); err != nil {
		return errors.Wrap(err, "write to transcription relay")
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var ev speech.RelayEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.errMu.Lock()
				c.err = errors.Wrap(err, "read from transcription relay")
				c.errMu.Unlock()
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}
