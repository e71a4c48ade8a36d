package connection

import (
	"context"
	"errors"

	"github.com/sblgo/sbl/internal/codec"
	"github.com/sblgo/sbl/pkg/transport"
)

// Session is the outcome of a successful signin.
type Session struct {
	// ID is the id the server answered the signin with. Every later request
	// made during the handshake carries it.
	ID string
	// Token is the signin result, string tokens verbatim.
	Token string
}

// Credentials is the signin payload.
type Credentials struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Handshake signs in over t and selects the configured namespace and database.
//
// The signin reply must carry an id and a non-null result and no error,
// otherwise an *AuthError is returned. The use reply is read but not
// inspected: only a transport failure aborts at that point.
func Handshake(ctx context.Context, t transport.Transport, cfg *Config, id string) (*Session, error) {
	log := cfg.Log()

	signin := NewRequest(id, SignIn, Credentials{User: cfg.User, Pass: cfg.Password})
	res, err := roundTrip(ctx, t, signin)
	if err != nil {
		return nil, err
	}

	if rpcErr := res.Err(); rpcErr != nil {
		return nil, &AuthError{Message: "signin rejected", Err: rpcErr}
	}
	token, ok := res.ResultString()
	if !ok {
		return nil, &AuthError{Message: "signin reply has no result"}
	}
	sessionID, ok := res.ID()
	if !ok {
		return nil, &AuthError{Message: "signin reply has no id"}
	}

	session := &Session{ID: sessionID, Token: token}

	use := NewRequest(session.ID, Use, cfg.Namespace, cfg.Database)
	res, err = roundTrip(ctx, t, use)
	if err != nil {
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			return nil, err
		}
		log.Warn("unreadable use reply", "session", session.ID, "error", err)
		return session, nil
	}
	if rpcErr := res.Err(); rpcErr != nil {
		log.Warn("use rejected", "session", session.ID, "namespace", cfg.Namespace, "database", cfg.Database, "error", rpcErr)
	}

	log.Debug("handshake complete", "session", session.ID, "namespace", cfg.Namespace, "database", cfg.Database)

	return session, nil
}

// roundTrip sends req and waits for the next frame. The frame is not matched
// against the request id.
func roundTrip(ctx context.Context, t transport.Transport, req *RPCRequest) (*RawResponse, error) {
	data, err := codec.JSON.Marshal(req)
	if err != nil {
		return nil, err
	}

	if err := t.Send(ctx, data); err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}

	reply, err := t.Receive(ctx)
	if err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}

	return ParseRawResponse(reply)
}
