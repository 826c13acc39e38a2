package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "annosync:"

// RedisRelay reaches the peers of a room through Redis pub/sub, one channel
// per room.
type RedisRelay struct {
	client redis.UniversalClient
}

func NewRedisRelay(client redis.UniversalClient) *RedisRelay {
	return &RedisRelay{client: client}
}

func (r *RedisRelay) Open(ctx context.Context, room string) (Link, error) {
	channel := redisChannelPrefix + room
	sub := r.client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	l := &redisLink{
		client:   r.client,
		sub:      sub,
		channel:  channel,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

type redisLink struct {
	client    redis.UniversalClient
	sub       *redis.PubSub
	channel   string
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (l *redisLink) readLoop() {
	defer close(l.messages)
	ch := l.sub.Channel()
	for {
		select {
		case <-l.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case l.messages <- []byte(msg.Payload):
			case <-l.done:
				return
			}
		}
	}
}

func (l *redisLink) Send(ctx context.Context, data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.client.Publish(ctx, l.channel, data).Err()
}

func (l *redisLink) Messages() <-chan []byte { return l.messages }

func (l *redisLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.sub.Close()
	})
	return err
}
