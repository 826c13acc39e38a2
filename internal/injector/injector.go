//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/annosync/internal/config"
	"github.com/zeusync/annosync/internal/session"
	"github.com/zeusync/annosync/internal/signal"
)

func InitializePeer(cfg config.Config, opts []session.Option) (*Peer, func()) {
	wire.Build(PeerSet)
	return nil, nil
}

func InitializeSignalServer(cfg config.Config) *signal.Server {
	wire.Build(SignalSet)
	return nil
}
