package fakesdb

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblgo/sbl/pkg/connection"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Logf("failed to stop server: %v", err)
		}
	})
	return server
}

func configFor(t *testing.T, server *Server) *connection.Config {
	t.Helper()

	u, err := url.Parse(server.URL())
	require.NoError(t, err)
	cfg := connection.NewConfig(u)
	cfg.Namespace, cfg.Database = "test", "test"
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func TestServer(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(SimpleStubResponse("query", []any{}))

	require.NoError(t, server.Start())
	assert.NotEmpty(t, server.Address())
	assert.Contains(t, server.URL(), "/rpc")
	require.NoError(t, server.Stop())
}

func TestAuthenticationFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("signin and query", func(t *testing.T) {
		server := startServer(t)
		server.TokenSignIn = "test_token_signin"

		conn, err := connection.Open(ctx, configFor(t, server))
		require.NoError(t, err)
		defer conn.Close(ctx)

		assert.Equal(t, "test_token_signin", conn.Session().Token)

		stmts, err := conn.Query(ctx, "CREATE user:1 SET name = 'One';", nil)
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, connection.StatusOK, stmts[0].Status)

		assert.Len(t, server.Engine.Records("test", "test", "user"), 1)
		assert.Equal(t, 1, server.RequestCount("signin"))
		assert.Equal(t, 1, server.RequestCount("use"))
		assert.Equal(t, 1, server.RequestCount("query"))
	})

	t.Run("wrong password", func(t *testing.T) {
		server := startServer(t)

		cfg := configFor(t, server)
		cfg.Password = "wrong"
		_, err := connection.Open(ctx, cfg)

		var authErr *connection.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, err.Error(), "There was a problem with authentication")
	})

	t.Run("reassigned session ids", func(t *testing.T) {
		server := startServer(t)
		server.ReassignIDs = true

		conn, err := connection.Open(ctx, configFor(t, server))
		require.NoError(t, err)
		defer conn.Close(ctx)

		assert.Equal(t, "session_0", conn.Session().ID)
	})
}

func TestQueryRequiresSignin(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	server.AddStubResponse(SimpleStubResponse("signin", "token"))

	conn, err := connection.Open(ctx, configFor(t, server))
	require.NoError(t, err)
	defer conn.Close(ctx)

	_, err = conn.Query(ctx, "SELECT * FROM user;", nil)
	var rpcErr *connection.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, rpcErr.Message, "Not signed in")
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid response", func(t *testing.T) {
		server := startServer(t)
		server.AddStubResponse(StubResponse{
			Matcher:  MatchMethod("query"),
			Failures: []FailureConfig{{Type: FailureInvalidResponse, Probability: 1}},
		})

		conn, err := connection.Open(ctx, configFor(t, server))
		require.NoError(t, err)
		defer conn.Close(ctx)

		_, err = conn.Query(ctx, "SELECT * FROM user;", nil)
		var protoErr *connection.ProtocolError
		assert.ErrorAs(t, err, &protoErr)
	})

	t.Run("dropped connection", func(t *testing.T) {
		server := startServer(t)
		server.AddStubResponse(StubResponse{
			Matcher:  MatchMethod("query"),
			Failures: []FailureConfig{{Type: FailureDropConnection, Probability: 1}},
		})

		conn, err := connection.Open(ctx, configFor(t, server))
		require.NoError(t, err)
		defer conn.Close(ctx)

		_, err = conn.Query(ctx, "SELECT * FROM user;", nil)
		var transportErr *connection.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})

	t.Run("request delay", func(t *testing.T) {
		server := startServer(t)
		server.SetGlobalFailures([]FailureConfig{{
			Type:        FailureRequestDelay,
			Probability: 1,
			MinDelay:    30 * time.Millisecond,
			MaxDelay:    30 * time.Millisecond,
		}})

		start := time.Now()
		conn, err := connection.Open(ctx, configFor(t, server))
		require.NoError(t, err)
		defer conn.Close(ctx)

		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})
}

func TestClearStubResponses(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	server.AddStubResponse(StubResponse{
		Matcher: MatchMethod("query"),
		Result:  []any{map[string]any{"status": "OK", "time": "1µs", "result": "stubbed"}},
	})

	conn, err := connection.Open(ctx, configFor(t, server))
	require.NoError(t, err)
	defer conn.Close(ctx)

	got, err := connection.QueryFirst[string](ctx, conn, "RETURN 'real';", nil)
	require.NoError(t, err)
	assert.Equal(t, "stubbed", got)

	server.ClearStubResponses()

	got, err = connection.QueryFirst[string](ctx, conn, "RETURN 'real';", nil)
	require.NoError(t, err)
	assert.Equal(t, "real", got)
}

func TestDropConnections(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)

	conn, err := connection.Open(ctx, configFor(t, server))
	require.NoError(t, err)
	defer conn.Close(ctx)

	require.Eventually(t, func() bool { return server.Connections() == 1 }, time.Second, 5*time.Millisecond)

	server.DropConnections()
	require.Eventually(t, func() bool { return server.Connections() == 0 }, time.Second, 5*time.Millisecond)

	_, err = conn.Query(ctx, "SELECT * FROM user;", nil)
	assert.Error(t, err)
}
