package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/goccy/go-json"

	"github.com/sblgo/sbl/internal/rand"
	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/transport"
)

// Conn is a single authenticated connection used one call at a time.
// It is not safe for concurrent use.
//
// A Conn whose exchange failed at the transport, or whose reply carried a
// foreign id, is closed and every later call returns
// constants.ErrConnectionClosed.
type Conn struct {
	cfg     *Config
	t       transport.Transport
	session *Session
	logger  logger.Logger
	dead    bool
}

// NewConnectionID returns the id a connection signs in with.
func NewConnectionID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Open dials cfg.URL and runs the handshake.
func Open(ctx context.Context, cfg *Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := NewConn(ctx, t, cfg)
	if err != nil {
		closeQuietly(t, cfg.Log())
		return nil, err
	}
	return c, nil
}

// NewConn runs the handshake over an already open transport.
func NewConn(ctx context.Context, t transport.Transport, cfg *Config) (*Conn, error) {
	id, err := NewConnectionID()
	if err != nil {
		return nil, err
	}

	session, err := Handshake(ctx, t, cfg, id)
	if err != nil {
		return nil, err
	}

	return &Conn{
		cfg:     cfg,
		t:       t,
		session: session,
		logger:  cfg.Log(),
	}, nil
}

// Session returns what the handshake established.
func (c *Conn) Session() *Session {
	return c.session
}

// Send performs one request/reply exchange and returns the undiscriminated reply.
func (c *Conn) Send(ctx context.Context, method RPCFunction, params ...any) (*RawResponse, error) {
	if c.dead {
		return nil, constants.ErrConnectionClosed
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	res, err := roundTrip(ctx, c.t, NewRequest(id, method, params...))
	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			// a reply may still be in flight; the stream can no longer be trusted
			c.kill("transport failure", err)
		}
		return nil, err
	}

	if replyID, ok := res.ID(); ok && replyID != id {
		err := &ProtocolError{Message: fmt.Sprintf("reply id %q does not match request %q", replyID, id)}
		c.kill("reply id mismatch", err)
		return nil, err
	}

	return res, nil
}

func (c *Conn) kill(reason string, err error) {
	c.dead = true
	c.logger.Warn("closing connection", "reason", reason, "error", err)
	closeQuietly(c.t, c.logger)
}

// Query runs sql and returns every statement's result. A failed statement
// is reported as a *StatementError.
func (c *Conn) Query(ctx context.Context, sql string, vars map[string]any) ([]QueryResult[json.RawMessage], error) {
	res, err := c.Send(ctx, Query, QueryParams(sql, vars)...)
	if err != nil {
		return nil, err
	}
	return res.Statements()
}

// QueryFirst runs sql and decodes the first statement's result into a T.
func QueryFirst[T any](ctx context.Context, c *Conn, sql string, vars map[string]any) (T, error) {
	stmts, err := c.Query(ctx, sql, vars)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeFirst[T](stmts)
}

// Close closes the underlying transport. Closing a connection that was
// already torn down after a failure is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	if c.dead {
		return nil
	}
	c.dead = true
	if err := c.t.Close(ctx); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func closeQuietly(t transport.Transport, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultCloseTimeout)
	defer cancel()
	if err := t.Close(ctx); err != nil {
		log.Debug("failed to close transport", "error", err)
	}
}
