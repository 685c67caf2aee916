package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

func proxyReq(target string) *protocol.Request {
	return &protocol.Request{
		Verb:       protocol.VerbRead,
		Name:       bean.MustParseName("go.runtime:type=Memory"),
		HasName:    true,
		Attributes: []string{"HeapAlloc"},
		Options:    protocol.DefaultOptions(),
		Target:     &protocol.Target{URL: target, User: "u", Password: "p"},
	}
}

func TestRemoteDispatcherForwardsAndUnwraps(t *testing.T) {
	var gotBody map[string]any
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		gotAuth = ok
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": 200,
			"value":  float64(4096),
		})
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(nil)
	value, pathHandled, err := d.Dispatch(proxyReq(srv.URL))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !pathHandled {
		t.Fatalf("proxy results are final, pathHandled must be true")
	}
	if value != float64(4096) {
		t.Fatalf("value = %#v", value)
	}
	if !gotAuth {
		t.Fatalf("basic auth not forwarded")
	}
	if gotBody["type"] != "read" || gotBody["mbean"] != "go.runtime:type=Memory" {
		t.Fatalf("forwarded body: %#v", gotBody)
	}
	if _, ok := gotBody["target"]; ok {
		t.Fatalf("target must be stripped before forwarding")
	}
}

func TestRemoteDispatcherPropagatesDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     404,
			"error":      "instance not found: x",
			"error_type": protocol.ErrorTypeInstanceNotFound,
		})
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(nil)
	_, _, err := d.Dispatch(proxyReq(srv.URL))
	var pe *protocol.Error
	if err == nil || !errors.As(err, &pe) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if pe.Status != 404 || pe.Type != protocol.ErrorTypeInstanceNotFound {
		t.Fatalf("error: %#v", pe)
	}
}

func TestRemoteDispatcherInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(nil)
	_, _, err := d.Dispatch(proxyReq(srv.URL))
	var pe *protocol.Error
	if err == nil || !errors.As(err, &pe) || pe.Status != 500 {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestRemoteDispatcherClaimsOnlyTargets(t *testing.T) {
	d := NewRemoteDispatcher(nil)
	if d.CanHandle(&protocol.Request{Verb: protocol.VerbRead}) {
		t.Fatalf("must not claim local requests")
	}
	if !d.CanHandle(proxyReq("http://remote/bridge")) {
		t.Fatalf("must claim target-bearing requests")
	}
}
