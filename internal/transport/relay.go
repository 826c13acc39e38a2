package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Link is one open connection to the peers of a room. Messages is closed when
// the link drops.
type Link interface {
	Send(ctx context.Context, data []byte) error
	Messages() <-chan []byte
	Close() error
}

// Relay opens links to rooms.
type Relay interface {
	Open(ctx context.Context, room string) (Link, error)
}

type Kind string

const (
	KindNone      Kind = "none"
	KindWebsocket Kind = "websocket"
	KindRedis     Kind = "redis"
)

type Options struct {
	Kind Kind
	// URL of the signaling endpoint, e.g. ws://localhost:4444/ws.
	URL   string
	Token string
	// RedisAddr is host:port of the Redis server.
	RedisAddr string
}

// NewRelay builds the relay described by opts. KindNone (or an empty kind)
// yields a nil relay.
func NewRelay(opts Options) (Relay, error) {
	switch Kind(strings.ToLower(string(opts.Kind))) {
	case "", KindNone:
		return nil, nil
	case KindWebsocket:
		if opts.URL == "" {
			return nil, fmt.Errorf("websocket relay: empty url")
		}
		return NewWebsocketRelay(opts.URL, opts.Token), nil
	case KindRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis relay: empty address")
		}
		return NewRedisRelay(redis.NewClient(&redis.Options{Addr: opts.RedisAddr})), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelay, opts.Kind)
	}
}
