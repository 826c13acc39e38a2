package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/annosync/internal/signal"
)

// WebsocketRelay reaches the peers of a room through a signaling server: the
// room is a topic and frames travel as publish messages.
type WebsocketRelay struct {
	url          string
	token        string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

func NewWebsocketRelay(endpoint, token string) *WebsocketRelay {
	return &WebsocketRelay{
		url:   endpoint,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		writeTimeout: 10 * time.Second,
	}
}

func (r *WebsocketRelay) Open(ctx context.Context, room string) (Link, error) {
	target, err := url.Parse(r.url)
	if err != nil {
		return nil, fmt.Errorf("signaling url: %w", err)
	}
	if r.token != "" {
		q := target.Query()
		q.Set("token", r.token)
		target.RawQuery = q.Encode()
	}
	conn, resp, err := r.dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.url, err)
	}

	l := &wsLink{
		conn:     conn,
		room:     room,
		timeout:  r.writeTimeout,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	if err := l.write(ctx, signal.Message{"type": signal.TypeSubscribe, "topics": []string{room}}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	go l.readLoop()
	return l, nil
}

type wsLink struct {
	conn    *websocket.Conn
	room    string
	timeout time.Duration

	writeMu   sync.Mutex
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

type envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (l *wsLink) readLoop() {
	defer close(l.messages)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != signal.TypePublish || env.Topic != l.room || len(env.Data) == 0 {
			continue
		}
		select {
		case l.messages <- env.Data:
		case <-l.done:
			return
		}
	}
}

func (l *wsLink) write(ctx context.Context, msg signal.Message) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteJSON(msg)
}

func (l *wsLink) Send(ctx context.Context, data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.write(ctx, signal.Message{
		"type":  signal.TypePublish,
		"topic": l.room,
		"data":  json.RawMessage(data),
	})
}

func (l *wsLink) Messages() <-chan []byte { return l.messages }

func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}
