// Package gorillaws implements transport.Transport on top of gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/transport"
)

// DefaultDialer is the dialer used by Dial.
//
// It is the default gorilla dialer as of gorilla/websocket v1.5.0 with
// EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Transport struct {
	conn   *gorilla.Conn
	logger logger.Logger

	// writeLock serialises writers, gorilla allows one concurrent writer.
	writeLock sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a websocket to opts.URL.
func Dial(ctx context.Context, opts transport.Options) (*Transport, error) {
	if opts.URL == "" {
		return nil, transport.ErrEmptyURL
	}

	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	conn, res, err := DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer res.Body.Close()

	if opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	return &Transport{conn: conn, logger: opts.Log()}, nil
}

// Send writes data as a single text frame.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		//nolint:errcheck
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	if err := t.conn.WriteMessage(gorilla.TextMessage, data); err != nil {
		if errors.Is(err, gorilla.ErrCloseSent) {
			return fmt.Errorf("%w: %w", constants.ErrConnectionClosed, err)
		}
		return err
	}
	return nil
}

// Receive blocks until the next data frame arrives or ctx is done.
//
// A context that ends mid-read leaves the underlying connection unusable,
// gorilla never recovers from a failed read.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ctx is already done when the deadline fires, so the error below is
	// always reported as ctx.Err()
	stop := context.AfterFunc(ctx, func() {
		// unblocks ReadMessage
		//nolint:errcheck
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var closeErr *gorilla.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("%w: %w", constants.ErrConnectionClosed, err)
		}
		return nil, err
	}

	return data, nil
}

// Close sends a normal closure frame, bounded by ctx, and closes the socket.
// It is safe to call more than once.
func (t *Transport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		writeErr := make(chan error, 1)

		// WriteControl may run concurrently with a pending Send.
		go func() {
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = time.Now().Add(constants.DefaultCloseTimeout)
			}
			writeErr <- t.conn.WriteControl(
				gorilla.CloseMessage,
				gorilla.FormatCloseMessage(constants.CloseMessageCode, ""),
				deadline,
			)
		}()

		select {
		case err := <-writeErr:
			if err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
				t.logger.Debug("failed to write close message", "error", err)
			}
		case <-ctx.Done():
		}

		t.closeErr = t.conn.Close()
	})

	return t.closeErr
}
