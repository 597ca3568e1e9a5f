package rpc

import (
	"encoding/json"
	"unicode/utf8"
)

// ParseMessage parses one inbound message, which may be a single JSON-RPC
// request object or a batch (JSON array) of them. It returns
// the parsed requests and, for each request that failed validation on its
// own, a pre-built error Response at the same index (nil otherwise). A
// top-level parse failure returns a single error Response and a nil slice.
func ParseMessage(raw []byte) ([]*Request, []*Response) {
	if !utf8.Valid(raw) {
		return nil, []*Response{NewParseError("invalid UTF-8")}
	}

	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return nil, []*Response{NewParseError("empty message")}
	}

	if trimmed[0] == '[' {
		var rawBatch []json.RawMessage
		if err := json.Unmarshal(raw, &rawBatch); err != nil {
			return nil, []*Response{NewParseError(err.Error())}
		}
		if len(rawBatch) == 0 {
			return nil, []*Response{NewInvalidRequest(nil, "empty batch")}
		}
		reqs := make([]*Request, len(rawBatch))
		errs := make([]*Response, len(rawBatch))
		for i, item := range rawBatch {
			req, errResp := parseOne(item)
			reqs[i] = req
			errs[i] = errResp
		}
		return reqs, errs
	}

	req, errResp := parseOne(raw)
	return []*Request{req}, []*Response{errResp}
}

// parseOne parses and validates a single JSON-RPC request object. On
// success it returns (req, nil); on failure it returns (nil, errResponse).
func parseOne(raw json.RawMessage) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, NewParseError(err.Error())
	}
	if req.JSONRPC != Version {
		return nil, NewInvalidRequest(req.ID, "missing or invalid jsonrpc version")
	}
	if req.Method == "" {
		return nil, NewInvalidRequest(req.ID, "missing method")
	}
	switch req.ID.(type) {
	case nil, string, float64:
		// valid id kinds (json numbers decode as float64); nil means notification
	default:
		return nil, NewInvalidRequest(nil, "id must be a string, number, or absent")
	}
	return &req, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
