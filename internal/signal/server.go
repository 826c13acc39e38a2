// Package signal is the rendezvous relay used by peers of a room: a topic
// based pub/sub over websockets. It carries opaque JSON frames and keeps no
// state besides the subscriptions.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/annosync/internal/core/observability/log"
)

type Config struct {
	Addr string
	// Secret enables room tokens. Empty means open access.
	Secret       string
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":4444",
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadLimit:    16 << 20,
	}
}

// Server relays publish frames to the subscribers of their topic.
type Server struct {
	config   Config
	logger   log.Log
	upgrader websocket.Upgrader

	mu     sync.Mutex
	topics map[string]map[*peer]struct{}
	peers  map[*peer]struct{}

	running atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type peer struct {
	id      uint64
	conn    *websocket.Conn
	room    string
	timeout time.Duration
	writeMu sync.Mutex
	pong    atomic.Bool
	topics  map[string]struct{}
}

func (p *peer) send(msg any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	}
	return p.conn.WriteJSON(msg)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.timeout))
}

func (p *peer) allowed(topic string) bool {
	return p.room == "" || p.room == topic
}

func NewServer(config Config, logger log.Log) *Server {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultConfig().PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Server{
		config: config,
		logger: log.OrNop(logger).With(log.Component("signal")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		topics: make(map[string]map[*peer]struct{}),
		peers:  make(map[*peer]struct{}),
	}
}

// Handler serves "/" with a liveness answer and "/ws" with the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("okay"))
	})
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("signaling server listening", log.String("addr", ln.Addr().String()), log.Bool("tokens", s.config.Secret != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

var nextPeer atomic.Uint64

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	room := ""
	if s.config.Secret != "" {
		var err error
		room, err = ParseRoomToken(s.config.Secret, r.URL.Query().Get("token"))
		if err != nil {
			s.logger.Debug("rejected connection", log.Error(err))
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.Error(err))
		return
	}
	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}
	p := &peer{
		id:      nextPeer.Add(1),
		conn:    conn,
		room:    room,
		timeout: s.config.WriteTimeout,
		topics:  make(map[string]struct{}),
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.peers[p] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.serve(p)
}

func (s *Server) serve(p *peer) {
	logger := s.logger.With(log.Uint64("peer", p.id))
	logger.Debug("peer connected", log.String("room", p.room))
	defer func() {
		s.drop(p)
		_ = p.conn.Close()
		logger.Debug("peer disconnected")
	}()

	p.pong.Store(true)
	p.conn.SetPongHandler(func(string) error {
		p.pong.Store(true)
		return nil
	})
	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(p, stop)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.dispatch(p, msg)
	}
}

// keepalive closes the connection when a ping went unanswered for a whole
// interval.
func (s *Server) keepalive(p *peer, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !p.pong.Swap(false) {
				_ = p.conn.Close()
				return
			}
			if err := p.ping(); err != nil {
				_ = p.conn.Close()
				return
			}
		}
	}
}

func (s *Server) dispatch(p *peer, msg Message) {
	switch msg.Type() {
	case TypeSubscribe:
		s.mu.Lock()
		for _, topic := range msg.Topics() {
			if !p.allowed(topic) {
				continue
			}
			subs := s.topics[topic]
			if subs == nil {
				subs = make(map[*peer]struct{})
				s.topics[topic] = subs
			}
			subs[p] = struct{}{}
			p.topics[topic] = struct{}{}
		}
		s.mu.Unlock()
	case TypeUnsubscribe:
		s.mu.Lock()
		for _, topic := range msg.Topics() {
			s.unsubscribeLocked(p, topic)
		}
		s.mu.Unlock()
	case TypePublish:
		topic := msg.Topic()
		if topic == "" || !p.allowed(topic) {
			return
		}
		s.mu.Lock()
		subs := s.topics[topic]
		receivers := make([]*peer, 0, len(subs))
		for r := range subs {
			receivers = append(receivers, r)
		}
		s.mu.Unlock()
		if len(receivers) == 0 {
			return
		}
		msg["clients"] = len(receivers)
		for _, r := range receivers {
			if err := r.send(msg); err != nil {
				_ = r.conn.Close()
			}
		}
	case TypePing:
		if err := p.send(Message{"type": TypePong}); err != nil {
			_ = p.conn.Close()
		}
	}
}

func (s *Server) unsubscribeLocked(p *peer, topic string) {
	if subs, ok := s.topics[topic]; ok {
		delete(subs, p)
		if len(subs) == 0 {
			delete(s.topics, topic)
		}
	}
	delete(p.topics, topic)
}

func (s *Server) drop(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic := range p.topics {
		s.unsubscribeLocked(p, topic)
	}
	delete(s.peers, p)
}

// Subscribers returns the number of peers subscribed to topic.
func (s *Server) Subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics[topic])
}

// Close disconnects every peer and refuses new ones.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	for p := range s.peers {
		_ = p.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("signaling server closed")
	return nil
}
