package rpc

import "testing"

func TestParseMessage_SingleValid(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"is_running","params":{"handle_id":1}}`)
	reqs, errs := ParseMessage(raw)
	if len(reqs) != 1 || reqs[0] == nil {
		t.Fatalf("expected one parsed request, got %v", reqs)
	}
	if errs[0] != nil {
		t.Fatalf("expected no error, got %v", errs[0])
	}
	if reqs[0].Method != "is_running" {
		t.Errorf("method = %q, want is_running", reqs[0].Method)
	}
}

func TestParseMessage_ParseError(t *testing.T) {
	_, errs := ParseMessage([]byte(`{bad json`))
	if len(errs) != 1 || errs[0] == nil {
		t.Fatalf("expected one error response, got %v", errs)
	}
	if errs[0].Error.Code != CodeParseError {
		t.Errorf("code = %d, want %d", errs[0].Error.Code, CodeParseError)
	}
	if errs[0].ID != nil {
		t.Errorf("id = %v, want nil", errs[0].ID)
	}
}

func TestParseMessage_Batch(t *testing.T) {
	raw := []byte(`[{"jsonrpc":"2.0","id":10,"method":"is_running","params":{"handle_id":1}},{"jsonrpc":"2.0","method":"abort","params":{"handle_id":1}}]`)
	reqs, errs := ParseMessage(raw)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 batch entries, got %d", len(reqs))
	}
	for i, e := range errs {
		if e != nil {
			t.Errorf("entry %d: unexpected error %v", i, e)
		}
	}
	if !reqs[1].IsNotification() {
		t.Errorf("second entry should be a notification")
	}
}

func TestParseMessage_EmptyBatch(t *testing.T) {
	_, errs := ParseMessage([]byte(`[]`))
	if len(errs) != 1 || errs[0].Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %v", errs)
	}
}

func TestParseMessage_InvalidVersion(t *testing.T) {
	_, errs := ParseMessage([]byte(`{"jsonrpc":"1.0","id":1,"method":"run"}`))
	if len(errs) != 1 || errs[0].Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %v", errs)
	}
}

func TestParseMessage_InvalidUTF8(t *testing.T) {
	raw := append([]byte(`{"jsonrpc":"2.0","id":1,"method":"run","params":"`), 0xff, 0xfe)
	raw = append(raw, []byte(`"}`)...)
	_, errs := ParseMessage(raw)
	if len(errs) != 1 || errs[0].Error.Code != CodeParseError {
		t.Fatalf("expected parse error for invalid utf-8, got %v", errs)
	}
}

func TestNewResultAndError_RoundTrip(t *testing.T) {
	res := NewResult(float64(1), map[string]any{"handle_id": 1})
	if res.Error != nil {
		t.Errorf("unexpected error on success response")
	}
	errResp := NewMethodNotFound(float64(9), "no.such")
	if errResp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", errResp.Error.Code, CodeMethodNotFound)
	}
}
