package connection_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblgo/sbl/internal/fakesdb"
	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
)

func newServer(t *testing.T) (*fakesdb.Server, *connection.Config) {
	t.Helper()

	server := fakesdb.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	u, err := url.Parse(server.URL())
	require.NoError(t, err)
	cfg := connection.NewConfig(u)
	cfg.RequestTimeout = 2 * time.Second
	return server, cfg
}

func TestConn_QueryFirst(t *testing.T) {
	ctx := context.Background()

	for _, engine := range []string{constants.EngineGorilla, constants.EngineGWS} {
		t.Run(engine, func(t *testing.T) {
			_, cfg := newServer(t)
			cfg.Engine = engine

			conn, err := connection.Open(ctx, cfg)
			require.NoError(t, err)
			defer conn.Close(ctx)

			_, err = conn.Query(ctx, "CREATE user:tobie SET name = 'Tobie'; CREATE user:jaime SET name = 'Jaime';", nil)
			require.NoError(t, err)

			type user struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			users, err := connection.QueryFirst[[]user](ctx, conn, "SELECT * FROM user;", nil)
			require.NoError(t, err)
			assert.Equal(t, []user{{"user:jaime", "Jaime"}, {"user:tobie", "Tobie"}}, users)

			echo, err := connection.QueryFirst[string](ctx, conn, "RETURN $v;", map[string]any{"v": "bound"})
			require.NoError(t, err)
			assert.Equal(t, "bound", echo)
		})
	}
}

func TestConn_DuplicateKeyIsStatementError(t *testing.T) {
	ctx := context.Background()
	_, cfg := newServer(t)

	conn, err := connection.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	_, err = conn.Query(ctx, "CREATE user:tobie SET name = 'Tobie';", nil)
	require.NoError(t, err)

	_, err = conn.Query(ctx, "CREATE user:tobie SET name = 'Tobie';", nil)
	var stmtErr *connection.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, 0, stmtErr.Index)
	assert.Equal(t, "Database record `user:tobie` already exists", stmtErr.Message)
}

func TestConn_Send(t *testing.T) {
	ctx := context.Background()
	server, cfg := newServer(t)
	server.AddStubResponse(fakesdb.SimpleStubResponse("query", "raw"))

	conn, err := connection.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	res, err := conn.Send(ctx, connection.Query, "anything")
	require.NoError(t, err)
	s, ok := res.ResultString()
	require.True(t, ok)
	assert.Equal(t, "raw", s)

	// the raw reply is not a statement list
	_, err = res.Statements()
	var protoErr *connection.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestConn_RequestTimeout(t *testing.T) {
	ctx := context.Background()
	server, cfg := newServer(t)
	cfg.RequestTimeout = 50 * time.Millisecond
	server.AddStubResponse(fakesdb.StubResponse{
		Matcher:  fakesdb.MatchMethod("query"),
		Failures: []fakesdb.FailureConfig{{Type: fakesdb.FailureNoResponse, Probability: 1}},
	})

	conn, err := connection.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	_, err = conn.Query(ctx, "SELECT * FROM user;", nil)
	var transportErr *connection.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_LateReplyDoesNotReachNextQuery(t *testing.T) {
	ctx := context.Background()

	for _, engine := range []string{constants.EngineGorilla, constants.EngineGWS} {
		t.Run(engine, func(t *testing.T) {
			server, cfg := newServer(t)
			cfg.Engine = engine
			cfg.RequestTimeout = 100 * time.Millisecond
			server.AddStubResponse(fakesdb.StubResponse{
				Matcher:  fakesdb.MatchQueryContaining("SLOW"),
				Result:   []any{map[string]any{"status": "OK", "time": "1µs", "result": "late"}},
				Failures: []fakesdb.FailureConfig{{
					Type:        fakesdb.FailureResponseDelay,
					Probability: 1,
					MinDelay:    300 * time.Millisecond,
					MaxDelay:    300 * time.Millisecond,
				}},
			})

			conn, err := connection.Open(ctx, cfg)
			require.NoError(t, err)
			defer conn.Close(ctx)

			_, err = conn.Query(ctx, "RETURN 'SLOW';", nil)
			var transportErr *connection.TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			// give the delayed reply time to arrive
			time.Sleep(400 * time.Millisecond)

			_, err = connection.QueryFirst[int](ctx, conn, "RETURN 1;", nil)
			assert.ErrorIs(t, err, constants.ErrConnectionClosed)
			require.Eventually(t, func() bool { return server.Connections() == 0 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestConn_ReplyWithoutID(t *testing.T) {
	ctx := context.Background()
	server, cfg := newServer(t)
	server.AddStubResponse(fakesdb.StubResponse{
		Matcher: fakesdb.MatchMethod("query"),
		Result:  []any{map[string]any{"status": "OK", "time": "1µs", "result": 5}},
		OmitID:  true,
	})

	conn, err := connection.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	res, err := conn.Send(ctx, connection.Query, connection.QueryParams("RETURN 5;", nil)...)
	require.NoError(t, err)
	_, ok := res.ID()
	assert.False(t, ok)

	n, err := connection.QueryFirst[int](ctx, conn, "RETURN 5;", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestOpen_SigninReplyWithoutID(t *testing.T) {
	ctx := context.Background()
	server, cfg := newServer(t)
	server.AddStubResponse(fakesdb.StubResponse{
		Matcher: fakesdb.MatchMethod("signin"),
		Result:  "token",
		OmitID:  true,
	})

	_, err := connection.Open(ctx, cfg)
	var authErr *connection.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "signin reply has no id", authErr.Message)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := connection.Open(ctx, connection.NewConfig(nil))
	assert.ErrorIs(t, err, constants.ErrNoURL)

	u, _ := url.Parse("ws://127.0.0.1:1/rpc")
	cfg := connection.NewConfig(u)
	cfg.DialTimeout = 200 * time.Millisecond
	_, err = connection.Open(ctx, cfg)
	var transportErr *connection.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestNewConnectionID(t *testing.T) {
	a, err := connection.NewConnectionID()
	require.NoError(t, err)
	b, err := connection.NewConnectionID()
	require.NoError(t, err)

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
