// Package gws implements transport.Transport on top of lxzan/gws.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/transport"
)

// inboxSize is how many frames may be buffered before the read loop stalls.
const inboxSize = 16

type Transport struct {
	conn   *gws.Conn
	logger logger.Logger

	inbox chan []byte

	// closed is closed by the handler once the read loop exits.
	closed   chan struct{}
	closeMu  sync.Mutex
	closeErr error

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

type handler struct {
	gws.BuiltinEventHandler
	t *Transport
}

func (h *handler) OnClose(_ *gws.Conn, err error) {
	h.t.closeMu.Lock()
	defer h.t.closeMu.Unlock()

	select {
	case <-h.t.closed:
	default:
		h.t.closeErr = err
		close(h.t.closed)
	}
}

func (h *handler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()

	// the buffer is recycled on Close
	data := append([]byte(nil), message.Bytes()...)

	select {
	case h.t.inbox <- data:
	case <-h.t.closed:
	}
}

// Dial opens a websocket to opts.URL and starts its read loop.
func Dial(ctx context.Context, opts transport.Options) (*Transport, error) {
	if opts.URL == "" {
		return nil, transport.ErrEmptyURL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handshakeTimeout := opts.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); handshakeTimeout == 0 || remaining < handshakeTimeout {
			handshakeTimeout = remaining
		}
	}

	t := &Transport{
		logger: opts.Log(),
		inbox:  make(chan []byte, inboxSize),
		closed: make(chan struct{}),
	}

	option := &gws.ClientOption{
		Addr:             opts.URL,
		HandshakeTimeout: handshakeTimeout,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}
	if opts.MaxMessageSize > 0 {
		option.ReadMaxPayloadSize = int(opts.MaxMessageSize)
	}

	conn, _, err := gws.NewClient(&handler{t: t}, option)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	t.conn = conn

	go conn.ReadLoop()

	return t, nil
}

// Send writes data as a single text frame.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-t.closed:
		return t.closedError()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		//nolint:errcheck
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	return t.conn.WriteMessage(gws.OpcodeText, data)
}

// Receive returns the next buffered frame, waiting for one if necessary.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	default:
	}

	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.closed:
		// a frame may have landed right before the close
		select {
		case data := <-t.inbox:
			return data, nil
		default:
		}
		return nil, t.closedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a normal closure frame and closes the socket.
// It is safe to call more than once.
func (t *Transport) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			t.conn.WriteClose(constants.CloseMessageCode, nil)
		}()

		select {
		case <-done:
		case <-ctx.Done():
		}

		if cerr := t.conn.NetConn().Close(); cerr != nil && !isClosedConnError(cerr) {
			err = cerr
		}
	})
	return err
}

func (t *Transport) closedError() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if t.closeErr == nil {
		return constants.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", constants.ErrConnectionClosed, t.closeErr)
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
