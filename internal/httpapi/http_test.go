package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nuetzliches/beanbridge/internal/backend"
	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
)

type memoryBean struct{}

func (b *memoryBean) GetHeapMemoryUsage() map[string]any {
	return map[string]any{"init": int64(0), "used": int64(2048), "committed": int64(8192), "max": int64(-1)}
}

type threadingBean struct{}

func (b *threadingBean) GetThreadCount() int { return 12 }

type compilationBean struct{}

func (b *compilationBean) GetHeapMemoryUsage() map[string]any {
	return map[string]any{"init": int64(0), "used": int64(1), "committed": int64(1), "max": int64(-1)}
}

func newTestServer(t *testing.T, restrictor policy.Restrictor) *httptest.Server {
	t.Helper()
	reg := bean.NewRegistry()
	for name, b := range map[string]any{
		"mem.lang:type=Memory":      &memoryBean{},
		"mem.lang:type=Threading":   &threadingBean{},
		"mem.lang:type=Compilation": &compilationBean{},
	} {
		if err := reg.Register(bean.MustParseName(name), b); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	holder := policy.NewHolder(restrictor)
	m, err := backend.NewManager(backend.Config{
		Agent:             backend.AgentMeta{ID: "test-agent", Version: "1.2.3"},
		HistoryMaxEntries: 4,
	}, holder, nil, backend.WithPlatformRegistry(reg))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown() })

	srv := httptest.NewServer(NewServer(m, "/bridge"))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestGetReadWholeAttribute(t *testing.T) {
	srv := newTestServer(t, nil)
	code, out := getJSON(t, srv.URL+"/bridge/read/mem.lang:type=Memory/HeapMemoryUsage")
	if code != 200 || out["status"].(float64) != 200 {
		t.Fatalf("status: http %d body %v", code, out["status"])
	}
	value := out["value"].(map[string]any)
	for _, k := range []string{"init", "used", "committed", "max"} {
		if _, ok := value[k]; !ok {
			t.Fatalf("missing %q: %#v", k, value)
		}
	}
	reqEcho := out["request"].(map[string]any)
	if reqEcho["type"] != "read" {
		t.Fatalf("request echo: %#v", reqEcho)
	}
}

func TestGetReadInnerPath(t *testing.T) {
	srv := newTestServer(t, nil)
	code, out := getJSON(t, srv.URL+"/bridge/read/mem.lang:type=Memory/HeapMemoryUsage/used")
	if code != 200 {
		t.Fatalf("http %d: %v", code, out)
	}
	if out["value"].(float64) != 2048 {
		t.Fatalf("value = %v", out["value"])
	}
	if out["request"].(map[string]any)["path"] != "used" {
		t.Fatalf("echo path: %#v", out["request"])
	}
}

func TestGetReadUnknownInstance(t *testing.T) {
	srv := newTestServer(t, nil)
	code, out := getJSON(t, srv.URL+"/bridge/read/mem.lang:name=bogus")
	if code != 404 || out["status"].(float64) != 404 {
		t.Fatalf("status: http %d body %v", code, out["status"])
	}
	if out["error_type"] != "InstanceNotFound" {
		t.Fatalf("error_type = %v", out["error_type"])
	}
	if !strings.Contains(out["error"].(string), "bogus") {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestPostBulkPreservesOrderAndIsolation(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `[
		{"type":"version"},
		{"type":"read","mbean":"mem.lang:type=Threading","attribute":"ThreadCount"},
		{"type":"read","mbean":"mem.lang:name=missing"}
	]`
	resp, err := http.Post(srv.URL+"/bridge", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("bulk http status = %d", resp.StatusCode)
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("bulk size = %d", len(out))
	}
	if out[0]["status"].(float64) != 200 {
		t.Fatalf("version element: %v", out[0])
	}
	version := out[0]["value"].(map[string]any)
	if version["protocol"] != backend.ProtocolVersion || version["agent"] != "1.2.3" {
		t.Fatalf("version value: %#v", version)
	}
	if out[1]["value"].(float64) != 12 {
		t.Fatalf("thread count: %v", out[1]["value"])
	}
	if out[2]["status"].(float64) != 404 {
		t.Fatalf("failed element must not abort siblings: %v", out[2])
	}
}

func TestPatternReadWithRestrictorDenial(t *testing.T) {
	p, err := policy.Parse([]byte(`
default: allow
rules:
  - name: "mem.lang:type=Compilation"
    allow: false
`))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	srv := newTestServer(t, p)

	code, out := getJSON(t, srv.URL+"/bridge/read/mem.lang:type=*/HeapMemoryUsage")
	if code != 200 {
		t.Fatalf("http %d: %v", code, out)
	}
	value := out["value"].(map[string]any)
	if _, ok := value["mem.lang:type=Memory"]; !ok {
		t.Fatalf("Memory must be present: %#v", value)
	}
	if _, ok := value["mem.lang:type=Compilation"]; ok {
		t.Fatalf("Compilation must be elided: %#v", value)
	}
}

func TestForbiddenResponseElidesStacktrace(t *testing.T) {
	srv := newTestServer(t, policy.DenyAll{})
	code, out := getJSON(t, srv.URL+"/bridge/read/mem.lang:type=Memory/HeapMemoryUsage")
	if code != 403 || out["status"].(float64) != 403 {
		t.Fatalf("status: http %d body %v", code, out["status"])
	}
	if _, ok := out["stacktrace"]; ok {
		t.Fatalf("forbidden must not include stacktrace: %#v", out)
	}
}

func TestHistoryAcrossRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	url := srv.URL + "/bridge/read/mem.lang:type=Memory/HeapMemoryUsage"

	_, first := getJSON(t, url)
	if _, ok := first["history"]; ok {
		t.Fatalf("first response must have no history")
	}

	_, second := getJSON(t, url)
	hist, ok := second["history"].([]any)
	if !ok || len(hist) < 1 {
		t.Fatalf("second response history: %#v", second["history"])
	}
	entry := hist[0].(map[string]any)
	if _, ok := entry["value"].(map[string]any); !ok {
		t.Fatalf("history entry value: %#v", entry)
	}
	if entry["timestamp"].(float64) != first["timestamp"].(float64) {
		t.Fatalf("history timestamp mismatch")
	}
}

func TestInvalidVerbIs400(t *testing.T) {
	srv := newTestServer(t, nil)
	code, out := getJSON(t, srv.URL+"/bridge/bogusverb/whatever")
	if code != 400 || out["status"].(float64) != 400 {
		t.Fatalf("status: http %d body %v", code, out["status"])
	}
	if out["error_type"] != "InvalidRequest" {
		t.Fatalf("error_type = %v", out["error_type"])
	}
}

func TestPostRejectsUnknownKeys(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/bridge", "application/json",
		strings.NewReader(`{"type":"read","mbean":"mem.lang:type=Memory","surprise":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPostRootMustBeObjectOrArray(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/bridge", "application/json", strings.NewReader(`42`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/bridge/version", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, nil)
	code, out := getJSON(t, srv.URL+"/bridge/search/mem.lang:type=*")
	if code != 200 {
		t.Fatalf("http %d: %v", code, out)
	}
	names := out["value"].([]any)
	if len(names) != 3 {
		t.Fatalf("matches: %#v", names)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/bridge", "application/json",
		strings.NewReader(`{"type":"write","mbean":"beanbridge:type=Config","attribute":"MaxDepth","value":6}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("write status = %d", resp.StatusCode)
	}

	_, out := getJSON(t, srv.URL+"/bridge/read/beanbridge:type=Config/MaxDepth")
	if out["value"].(float64) != 6 {
		t.Fatalf("MaxDepth = %v", out["value"])
	}
}
