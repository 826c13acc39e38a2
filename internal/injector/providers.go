package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/annosync/internal/config"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/view/memory"
	"github.com/zeusync/annosync/internal/session"
	"github.com/zeusync/annosync/internal/signal"
)

// Peer is a headless peer: a session bound to an in-memory surface.
type Peer struct {
	Session *session.Session
	Surface *memory.Surface
	Logger  log.Log
}

var PeerSet = wire.NewSet(
	ProvideLogger,
	ProvideSurface,
	ProvideSession,
	wire.Struct(new(Peer), "*"),
)

var SignalSet = wire.NewSet(
	ProvideLogger,
	ProvideSignalConfig,
	signal.NewServer,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideSurface() (*memory.Surface, func()) {
	s := memory.New()
	return s, func() { _ = s.Close() }
}

func ProvideSession(cfg config.Config, surface *memory.Surface, logger log.Log, opts []session.Option) (*session.Session, func()) {
	s := session.New(cfg, surface, logger, opts...)
	return s, func() { _ = s.Close() }
}

func ProvideSignalConfig(cfg config.Config) signal.Config {
	sc := signal.DefaultConfig()
	sc.Addr = cfg.Signal.Addr
	sc.Secret = cfg.Signal.Secret
	if cfg.Signal.PingInterval > 0 {
		sc.PingInterval = cfg.Signal.PingInterval
	}
	return sc
}
