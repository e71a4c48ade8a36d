// Package fakesdb provides a fake SurrealDB WebSocket server for testing purposes.
// It speaks the JSON-RPC protocol used by this module (signin, use, query),
// answers queries from an in-memory Engine and includes failure injection.
//
// The WebSocket server is implemented using the `gws` library.
//
// To flexibly inject failures, you can configure stub responses
// that match specific RPC methods and parameters, along with failure configurations
// that specify how it fails (e.g., delays, invalid responses, dropped connections).
package fakesdb

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/sblgo/sbl/internal/codec"
	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
)

// cryptoRandInt64 generates a cryptographically secure random int64 in [0, max)
func cryptoRandInt64(rMax int64) int64 {
	if rMax <= 0 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(rMax))
	return n.Int64()
}

// cryptoRandFloat64 generates a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureNone indicates no failure injection
	FailureNone FailureType = "none"
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureResponseDelay delays the response (sent in background)
	FailureResponseDelay FailureType = "response_delay"
	// FailureInvalidResponse sends a frame that is not JSON instead of a valid response
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
	// FailureWebSocketClose sends WebSocket close frame with configurable code/reason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
)

// RequestMatcher defines criteria for matching incoming RPC requests.
// It can match by method name and optionally by parameter values.
type RequestMatcher struct {
	// Method is the RPC method name to match
	Method string
	// Matcher is an optional function to match based on request parameters.
	// If nil, only the method name is used for matching.
	Matcher func(params []any) bool
}

// StubResponse defines a pre-configured RPC response for matching requests.
// A matching stub takes precedence over the built-in signin, use and query handling.
type StubResponse struct {
	// Matcher determines which requests this stub should handle
	Matcher RequestMatcher
	// Result is the successful RPCResponse result to return (mutually exclusive with Error)
	Result any
	// Error is the error to return (mutually exclusive with Result)
	Error *connection.RPCError
	// OmitID drops the id from the reply
	OmitID bool
	// Failures defines failure injection configurations for this response
	Failures []FailureConfig
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	// Type specifies the type of failure to inject
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// MinDelay is the minimum delay for delay-based failures
	MinDelay time.Duration
	// MaxDelay is the maximum delay for delay-based failures
	MaxDelay time.Duration
	// CloseCode is the WebSocket close code for FailureWebSocketClose
	CloseCode uint16
	// CloseReason is the WebSocket close reason for FailureWebSocketClose
	CloseReason string
}

// Session represents a connection's signin and namespace/database context
type Session struct {
	// ID is the id the signin was answered with
	ID        string
	Namespace string
	Database  string
	Username  string
	Token     string
}

// Server is a fake SurrealDB WebSocket server that implements the RPC protocol
// with support for stub responses and failure injection
type Server struct {
	addr           string
	listener       net.Listener
	server         *gws.Server
	mu             sync.RWMutex
	stubResponses  []StubResponse
	globalFailures []FailureConfig
	connSessions   map[*gws.Conn]*Session
	connections    map[*gws.Conn]struct{}
	requestCounts  map[string]int

	// Engine answers query requests that no stub matched
	Engine *Engine

	// Users holds the accepted credentials. It defaults to root/root.
	Users map[string]string

	// TokenSignIn is the token returned by any successful SignIn operation.
	// When empty, a token is derived from the session id.
	TokenSignIn string

	// ReassignIDs makes signin replies carry a server-assigned id instead of
	// echoing the request id.
	ReassignIDs bool

	// sessionIDCounter is used to generate unique session IDs
	sessionIDCounter int
}

// Handler implements the gws.Handler interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake SurrealDB server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:          addr,
		connSessions:  make(map[*gws.Conn]*Session),
		connections:   make(map[*gws.Conn]struct{}),
		requestCounts: make(map[string]int),
		Engine:        NewEngine(),
		Users:         map[string]string{constants.DefaultUser: constants.DefaultPassword},
	}

	handler := &Handler{server: s}
	s.server = gws.NewServer(handler, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("Server error: %v", err)
		}
	}

	return s
}

// AddStubResponse adds a stub response configuration to the server.
// Stub responses are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// ClearStubResponses removes every stub response.
func (s *Server) ClearStubResponses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = nil
}

// SetGlobalFailures sets failure configurations that apply to all requests.
// These are checked before stub-specific failures.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// RequestCount returns how many requests with the given method were received.
func (s *Server) RequestCount(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestCounts[method]
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// DropConnections closes the network connection of every client.
func (s *Server) DropConnections() {
	s.mu.RLock()
	conns := make([]*gws.Conn, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.NetConn().Close()
	}
}

// Start starts the server and begins accepting WebSocket connections.
// Returns an error if the server cannot bind to the specified address.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil {
			// Ignore "use of closed network connection" errors which are expected on shutdown
			if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
				log.Printf("Server error: %v", err)
			}
		}
	}()

	return nil
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.DropConnections()
	return err
}

// Address returns the actual address the server is listening on.
// This is useful when using "127.0.0.1:0" to get the assigned port.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the rpc endpoint of the server.
func (s *Server) URL() string {
	return constants.WebsocketScheme + "://" + s.Address() + constants.RPCPath
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.connections[socket] = struct{}{}
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.connSessions, socket)
	delete(h.server.connections, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("Error writing Pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.server.mu.RLock()
	globalFailures := h.server.globalFailures
	h.server.mu.RUnlock()

	var req connection.RPCRequest
	if err := codec.JSON.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, -32700, "Parse error")
		return
	}

	h.server.mu.Lock()
	h.server.requestCounts[string(req.Method)]++
	var matchedStub *StubResponse
	for i := range h.server.stubResponses {
		stub := h.server.stubResponses[i]
		if stub.Matcher.Method == string(req.Method) &&
			(stub.Matcher.Matcher == nil || stub.Matcher.Matcher(req.Params)) {
			matchedStub = &stub
			break
		}
	}
	h.server.mu.Unlock()

	for _, failure := range globalFailures {
		if shouldTriggerFailure(failure.Probability) {
			if err := h.applyFailure(socket, failure, &req, matchedStub); err != nil {
				return
			}
		}
	}

	if matchedStub != nil {
		for _, failure := range matchedStub.Failures {
			if shouldTriggerFailure(failure.Probability) {
				if err := h.applyFailure(socket, failure, &req, matchedStub); err != nil {
					return
				}
			}
		}
		h.sendStub(socket, &req, matchedStub)
		return
	}

	h.dispatch(socket, &req)
}

func (h *Handler) dispatch(socket *gws.Conn, req *connection.RPCRequest) {
	switch req.Method {
	case connection.SignIn:
		h.handleSignIn(socket, req)
	case connection.Use:
		h.handleUse(socket, req)
	case connection.Query:
		h.handleQuery(socket, req)
	default:
		h.sendError(socket, req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (h *Handler) applyFailure(socket *gws.Conn, failure FailureConfig, req *connection.RPCRequest, stub *StubResponse) error {
	switch failure.Type {
	case FailureRequestDelay:
		time.Sleep(randomDuration(failure.MinDelay, failure.MaxDelay))

	case FailureResponseDelay:
		go func() {
			time.Sleep(randomDuration(failure.MinDelay, failure.MaxDelay))
			if stub != nil {
				h.sendStub(socket, req, stub)
				return
			}
			h.dispatch(socket, req)
		}()
		return fmt.Errorf("response delayed")

	case FailureInvalidResponse:
		if err := socket.WriteMessage(gws.OpcodeText, []byte("this is not json")); err != nil {
			log.Printf("Error writing invalid response: %v", err)
		}
		return fmt.Errorf("invalid response sent")

	case FailureNoResponse:
		return fmt.Errorf("response swallowed")

	case FailureWebSocketClose:
		code := failure.CloseCode
		if code == 0 {
			code = 1001
		}
		reason := failure.CloseReason
		if reason == "" {
			reason = "failure injection"
		}
		socket.WriteClose(code, []byte(reason))
		return fmt.Errorf("websocket close")

	case FailureDropConnection:
		socket.NetConn().Close()
		return fmt.Errorf("connection dropped")
	}

	return nil
}

func (h *Handler) sendStub(socket *gws.Conn, req *connection.RPCRequest, stub *StubResponse) {
	id := req.ID
	if stub.OmitID {
		id = nil
	}
	if stub.Error != nil {
		h.sendError(socket, id, stub.Error.Code, stub.Error.Message)
		return
	}
	h.sendResponse(socket, id, stub.Result)
}

func (h *Handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	if result != nil {
		resp.Result = &result
	}

	data, err := codec.JSON.Marshal(resp)
	if err != nil {
		h.sendError(socket, id, -32603, fmt.Sprintf("sendResponse: %v", err))
		return
	}

	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil {
		log.Printf("Error writing response: %v", err)
		return
	}
}

func (h *Handler) sendError(socket *gws.Conn, id any, code int, message string) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = &connection.RPCError{
		Code:    code,
		Message: message,
	}

	responseData, err := codec.JSON.Marshal(resp)
	if err != nil {
		log.Printf("Failed to marshal error response: %v", err)
		return
	}

	if err := socket.WriteMessage(gws.OpcodeText, responseData); err != nil {
		log.Printf("Error writing error response: %v", err)
		return
	}
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMin >= dMax {
		return dMin
	}
	return dMin + time.Duration(cryptoRandInt64(int64(dMax-dMin)))
}

// MatchMethod creates a RequestMatcher that matches only by method name
func MatchMethod(method string) RequestMatcher {
	return RequestMatcher{
		Method:  method,
		Matcher: nil,
	}
}

// MatchMethodWithParams creates a RequestMatcher that matches by method name
// and parameter values using a custom matcher function
func MatchMethodWithParams(method string, matcher func(params []any) bool) RequestMatcher {
	return RequestMatcher{
		Method:  method,
		Matcher: matcher,
	}
}

// MatchQueryContaining matches query requests whose SQL contains substr.
func MatchQueryContaining(substr string) RequestMatcher {
	return MatchMethodWithParams(string(connection.Query), func(params []any) bool {
		if len(params) == 0 {
			return false
		}
		sql, ok := params[0].(string)
		return ok && strings.Contains(sql, substr)
	})
}

// SimpleStubResponse creates a basic stub response for a method without failure injection
func SimpleStubResponse(method string, response any) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Result:  response,
	}
}

// ErrorStubResponse creates a stub response that returns an RPC error
func ErrorStubResponse(method string, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error: &connection.RPCError{
			Code:    code,
			Message: message,
		},
	}
}

func (h *Handler) handleSignIn(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "handleSignIn: invalid params: signin requires auth data")
		return
	}

	authData, ok := req.Params[0].(map[string]any)
	if !ok {
		h.sendError(socket, req.ID, -32602, "handleSignIn: invalid params: auth data must be an object")
		return
	}
	username, _ := authData["user"].(string)
	password, _ := authData["pass"].(string)

	h.server.mu.Lock()
	expected, known := h.server.Users[username]
	if !known || expected != password {
		h.server.mu.Unlock()
		h.sendError(socket, req.ID, -32000, "There was a problem with authentication")
		return
	}

	session := h.server.connSessions[socket]
	if session == nil {
		session = &Session{}
		h.server.connSessions[socket] = session
	}
	session.ID = fmt.Sprint(req.ID)
	if h.server.ReassignIDs {
		session.ID = fmt.Sprintf("session_%d", h.server.sessionIDCounter)
	}
	h.server.sessionIDCounter++
	session.Username = username
	session.Token = h.server.TokenSignIn
	if session.Token == "" {
		session.Token = "token_" + session.ID
	}
	id, token := session.ID, session.Token
	h.server.mu.Unlock()

	h.sendResponse(socket, id, token)
}

func (h *Handler) handleUse(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) < 2 {
		h.sendError(socket, req.ID, -32602, "handleUse: invalid params: use requires namespace and database parameters")
		return
	}

	namespace, ok := req.Params[0].(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "handleUse: invalid params: namespace must be a string")
		return
	}

	database, ok := req.Params[1].(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "handleUse: invalid params: database must be a string")
		return
	}

	h.server.mu.Lock()
	session := h.server.connSessions[socket]
	if session == nil {
		session = &Session{}
		h.server.connSessions[socket] = session
	}
	session.Namespace = namespace
	session.Database = database
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleQuery(socket *gws.Conn, req *connection.RPCRequest) {
	h.server.mu.RLock()
	var (
		session, ok = h.server.connSessions[socket]
		ns, db      string
		signedIn    bool
	)
	if ok {
		ns, db, signedIn = session.Namespace, session.Database, session.Username != ""
	}
	h.server.mu.RUnlock()

	switch {
	case !ok:
		h.sendError(socket, req.ID, -32000, "There was a problem with the database: There was a problem with authentication: Session not found")
		return
	case ns == "" || db == "":
		h.sendError(socket, req.ID, -32000,
			"There was a problem with the database: There was a problem with authentication: Specify a namespace and database",
		)
		return
	case !signedIn:
		h.sendError(socket, req.ID, -32000, "There was a problem with the database: There was a problem with authentication: Not signed in")
		return
	}

	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "handleQuery: invalid params: query requires a statement")
		return
	}
	sql, ok := req.Params[0].(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "handleQuery: invalid params: statement must be a string")
		return
	}
	var vars map[string]any
	if len(req.Params) > 1 {
		vars, _ = req.Params[1].(map[string]any)
	}

	h.sendResponse(socket, req.ID, h.server.Engine.Execute(ns, db, sql, vars))
}

func isUseOfClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasSuffix(err.Error(), "use of closed network connection")
}
