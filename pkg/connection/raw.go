package connection

import (
	"bytes"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/sblgo/sbl/internal/codec"
)

// RawResponse is a reply envelope that has been checked to be a JSON object
// but not otherwise interpreted. Its fields are looked up lazily.
type RawResponse struct {
	Data []byte

	decodedError bool
	err          *RPCError
}

// ParseRawResponse wraps data, failing with a *ProtocolError when data is not
// a JSON object.
func ParseRawResponse(data []byte) (*RawResponse, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, &ProtocolError{Message: fmt.Sprintf("reply is not a JSON object: %.64q", data)}
	}
	return &RawResponse{Data: trimmed}, nil
}

// ID returns the reply id. Numeric ids are returned in their JSON text form.
// The second value is false when the id is absent or null.
func (res *RawResponse) ID() (string, bool) {
	value, dataType, _, err := jsonparser.Get(res.Data, "id")
	if err != nil {
		return "", false
	}

	switch dataType {
	case jsonparser.String:
		id, err := jsonparser.ParseString(value)
		if err != nil {
			return "", false
		}
		return id, true
	case jsonparser.Number:
		return string(value), true
	default:
		return "", false
	}
}

// Result returns the raw JSON of the result field. The second value is false
// when the field is absent or null.
func (res *RawResponse) Result() ([]byte, bool) {
	value, dataType, end, err := jsonparser.Get(res.Data, "result")
	if err != nil || dataType == jsonparser.NotExist || dataType == jsonparser.Null {
		return nil, false
	}
	if dataType == jsonparser.String {
		// jsonparser strips the quotes, hand back valid JSON
		return res.Data[end-len(value)-2 : end], true
	}
	return value, true
}

// ResultString returns a string result verbatim and any other result as its JSON text.
func (res *RawResponse) ResultString() (string, bool) {
	value, dataType, _, err := jsonparser.Get(res.Data, "result")
	if err != nil {
		return "", false
	}

	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return "", false
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value), true
		}
		return s, true
	default:
		return string(value), true
	}
}

func (res *RawResponse) HasError() bool {
	return res.Err() != nil
}

// Err returns the top-level error of the reply, or nil. A string error is
// reported with code 0.
func (res *RawResponse) Err() *RPCError {
	if res.decodedError {
		return res.err
	}
	res.decodedError = true

	value, dataType, _, err := jsonparser.Get(res.Data, "error")
	if err != nil {
		return nil
	}

	switch dataType {
	case jsonparser.Object:
		res.err = &RPCError{}
		if msg, err := jsonparser.GetString(value, "message"); err == nil {
			res.err.Message = msg
		}
		if code, err := jsonparser.GetInt(value, "code"); err == nil {
			res.err.Code = int(code)
		}
	case jsonparser.String:
		msg, perr := jsonparser.ParseString(value)
		if perr != nil {
			msg = string(value)
		}
		res.err = &RPCError{Message: msg}
	case jsonparser.NotExist, jsonparser.Null:
	default:
		res.err = &RPCError{Message: string(value)}
	}

	return res.err
}

// DecodeResult unmarshals the result field into dst.
func (res *RawResponse) DecodeResult(dst any) error {
	value, ok := res.Result()
	if !ok {
		return &ProtocolError{Message: "reply has no result"}
	}
	if err := codec.JSON.Unmarshal(value, dst); err != nil {
		return &ProtocolError{Message: "failed to decode result", Err: err}
	}
	return nil
}

// Statements interprets the reply as the answer to a query call.
//
// A top-level error is returned as *RPCError, a missing result as
// *ProtocolError and the first statement with status ERR as *StatementError.
func (res *RawResponse) Statements() ([]QueryResult[json.RawMessage], error) {
	if rpcErr := res.Err(); rpcErr != nil {
		return nil, rpcErr
	}

	var stmts []QueryResult[json.RawMessage]
	if err := res.DecodeResult(&stmts); err != nil {
		return nil, err
	}

	for i, stmt := range stmts {
		if stmt.Status != StatusErr {
			continue
		}
		return stmts, &StatementError{Index: i, Message: statementMessage(stmt.Result)}
	}

	return stmts, nil
}

// DecodeFirst unmarshals the result of the first statement into a T.
func DecodeFirst[T any](stmts []QueryResult[json.RawMessage]) (T, error) {
	var out T
	if len(stmts) == 0 {
		return out, &ProtocolError{Message: "query reply has no statements"}
	}
	if len(stmts[0].Result) == 0 {
		return out, nil
	}
	if err := codec.JSON.Unmarshal(stmts[0].Result, &out); err != nil {
		return out, &ProtocolError{Message: "failed to decode statement result", Err: err}
	}
	return out, nil
}

func statementMessage(raw json.RawMessage) string {
	var msg string
	if err := codec.JSON.Unmarshal(raw, &msg); err == nil {
		return msg
	}
	return string(raw)
}
