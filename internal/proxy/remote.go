package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nuetzliches/beanbridge/internal/backend"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Register wires the remote dispatcher into the backend registration
// table under the name configuration refers to.
func Register() {
	backend.RegisterDispatcher("remote", func(ctx backend.DispatcherContext) (backend.Dispatcher, error) {
		return NewRemoteDispatcher(ctx.Logger), nil
	})
}

// RemoteDispatcher claims requests carrying a proxy target and forwards
// them to the downstream bridge over its own JSON/HTTP protocol. The
// downstream applies path descent and conversion; the returned value is
// final.
type RemoteDispatcher struct {
	client *http.Client
	logger *slog.Logger
}

const remoteTimeout = 30 * time.Second

func NewRemoteDispatcher(logger *slog.Logger) *RemoteDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteDispatcher{
		client: &http.Client{Timeout: remoteTimeout},
		logger: logger,
	}
}

var _ backend.Dispatcher = (*RemoteDispatcher)(nil)

func (d *RemoteDispatcher) Name() string { return "remote" }

func (d *RemoteDispatcher) CanHandle(req *protocol.Request) bool {
	return req.Target != nil && req.Target.URL != ""
}

func (d *RemoteDispatcher) Dispatch(req *protocol.Request) (any, bool, error) {
	body := req.Echo()
	delete(body, "target")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, true, protocol.Internalf("encode proxy request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, req.Target.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, true, protocol.Invalidf("invalid proxy target %q: %v", req.Target.URL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Target.User != "" {
		httpReq.SetBasicAuth(req.Target.User, req.Target.Password)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, true, protocol.Internalf("proxy call to %s failed: %v", req.Target.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, true, protocol.Internalf("read proxy response: %v", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, true, protocol.Internalf("proxy target %s returned invalid JSON", req.Target.URL)
	}

	doc := gjson.ParseBytes(raw)
	status := int(doc.Get("status").Int())
	if status == 0 {
		return nil, true, protocol.Internalf("proxy target %s returned no status (http %d)", req.Target.URL, resp.StatusCode)
	}
	if status != http.StatusOK {
		errType := doc.Get("error_type").String()
		if errType == "" {
			errType = protocol.ErrorTypeInternal
		}
		return nil, true, &protocol.Error{
			Status: status,
			Type:   errType,
			Detail: fmt.Sprintf("proxy target %s: %s", req.Target.URL, doc.Get("error").String()),
		}
	}

	d.logger.Debug("proxy_ok", slog.String("target", req.Target.URL), slog.String("verb", string(req.Verb)))
	return doc.Get("value").Value(), true, nil
}
