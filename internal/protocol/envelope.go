package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
)

// HistoryEntry is one prior value attached to a response envelope.
type HistoryEntry struct {
	Value     any   `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// Response is the JSON envelope returned for every request: status plus
// either a value (success) or a typed error record, with the original
// request echoed back.
type Response struct {
	Status    int
	Timestamp int64
	Request   map[string]any
	Value     any
	HasValue  bool
	ErrorMsg  string
	ErrorType string
	Stack     string

	// ErrorValue is the structured form of the failure, present only when
	// the request asked for serialized errors.
	ErrorValue map[string]any

	History []HistoryEntry
}

// NewResponse builds a success envelope.
func NewResponse(req *Request, value any, timestamp int64) *Response {
	resp := &Response{
		Status:    http.StatusOK,
		Timestamp: timestamp,
		Value:     value,
		HasValue:  true,
	}
	if req != nil {
		resp.Request = req.Echo()
	}
	return resp
}

// ErrorResponse builds a failure envelope from a classified error. The
// stacktrace is always elided for restrictor denials.
func ErrorResponse(req *Request, err error, timestamp int64) *Response {
	pe := Classify(err)
	resp := &Response{
		Status:    pe.Status,
		Timestamp: timestamp,
		ErrorMsg:  pe.Error(),
		ErrorType: pe.Type,
	}
	if req != nil {
		resp.Request = req.Echo()
		if req.Options.IncludeStackTrace && pe.Type != ErrorTypeForbidden {
			resp.Stack = string(debug.Stack())
		}
		if req.Options.SerializeError {
			resp.ErrorValue = map[string]any{
				"type":    pe.Type,
				"status":  pe.Status,
				"message": pe.Error(),
			}
		}
	}
	return resp
}

func (r *Response) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"status": r.Status,
	}
	if r.Timestamp != 0 {
		m["timestamp"] = r.Timestamp
	}
	if r.Request != nil {
		m["request"] = r.Request
	}
	if r.HasValue {
		m["value"] = r.Value
	}
	if r.ErrorMsg != "" {
		m["error"] = r.ErrorMsg
	}
	if r.ErrorType != "" {
		m["error_type"] = r.ErrorType
	}
	if r.Stack != "" {
		m["stacktrace"] = r.Stack
	}
	if r.ErrorValue != nil {
		m["error_value"] = r.ErrorValue
	}
	if len(r.History) > 0 {
		m["history"] = r.History
	}
	return json.Marshal(m)
}

func (r *Response) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("response(status=%d)", r.Status)
	}
	return string(b)
}
