package connection

import "fmt"

// RPCError represents a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r *RPCError) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("rpc error %d", r.Code)
	}
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	_, ok := target.(*RPCError)
	return ok
}

// RPCRequest is the envelope of every outgoing call.
// Params is always encoded as a JSON array.
type RPCRequest struct {
	ID     any         `json:"id"`
	Method RPCFunction `json:"method"`
	Params []any       `json:"params"`
}

// RPCResponse is the envelope of every reply.
type RPCResponse[T any] struct {
	// ID is the ID of the request this response corresponds to.
	ID     any       `json:"id,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

// QueryResult is one statement's outcome inside a query reply.
type QueryResult[T any] struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Result T      `json:"result"`
}

const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

type RPCFunction string

var (
	Use    RPCFunction = "use"
	SignIn RPCFunction = "signin"
	Query  RPCFunction = "query"
)

// NewRequest builds an envelope, substituting an empty array for nil params.
func NewRequest(id string, method RPCFunction, params ...any) *RPCRequest {
	if params == nil {
		params = []any{}
	}
	return &RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// QueryParams returns the params of a query call: the SQL text followed by
// the bound variables, an empty object when there are none.
func QueryParams(sql string, vars map[string]any) []any {
	if vars == nil {
		vars = map[string]any{}
	}
	return []any{sql, vars}
}
