package connection

import (
	"context"
	"fmt"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/transport"
	"github.com/sblgo/sbl/pkg/transport/gorillaws"
	"github.com/sblgo/sbl/pkg/transport/gws"
)

// Dial opens a websocket to cfg.URL with the configured engine.
func Dial(ctx context.Context, cfg *Config) (transport.Transport, error) {
	opts := transport.Options{
		URL:            cfg.URL,
		DialTimeout:    cfg.DialTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         cfg.Log(),
	}

	var (
		t   transport.Transport
		err error
	)
	switch cfg.Engine {
	case "", constants.EngineGorilla:
		t, err = gorillaws.Dial(ctx, opts)
	case constants.EngineGWS:
		t, err = gws.Dial(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownEngine, cfg.Engine)
	}
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return t, nil
}
