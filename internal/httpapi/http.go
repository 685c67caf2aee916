package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/nuetzliches/beanbridge/internal/backend"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Server is the transport adapter of the bridge: it accepts the GET
// path-encoded and POST JSON-encoded request forms, feeds the backend
// manager and writes response envelopes. Protocol-level failures never
// surface as transport errors; they become error envelopes.
type Server struct {
	Manager *backend.Manager

	// ContextPath is the endpoint prefix stripped before path parsing.
	ContextPath string

	// MaxBodyBytes bounds POST bodies. Zero applies the default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 1 << 20

func NewServer(manager *backend.Manager, contextPath string) *Server {
	return &Server{
		Manager:     manager,
		ContextPath: strings.TrimSuffix(contextPath, "/"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.serveGet(w, r)
	case http.MethodPost:
		s.servePost(w, r)
	default:
		writeEnvelope(w, protocol.ErrorResponse(nil,
			&protocol.Error{Status: http.StatusMethodNotAllowed, Type: protocol.ErrorTypeInvalidRequest, Detail: "method must be GET or POST"}, 0))
	}
}

func (s *Server) serveGet(w http.ResponseWriter, r *http.Request) {
	pathInfo := strings.TrimPrefix(r.URL.Path, s.ContextPath)
	req, err := protocol.FromPath(pathInfo, r.URL.Query())
	if err != nil {
		writeEnvelope(w, protocol.ErrorResponse(nil, err, 0))
		return
	}
	s.stampRemote(req, r)
	writeEnvelope(w, s.handleOne(req))
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	max := s.MaxBodyBytes
	if max <= 0 {
		max = defaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, max)

	reqs, bulk, err := protocol.ParseBody(body, r.URL.Query())
	if err != nil {
		writeEnvelope(w, protocol.ErrorResponse(nil, err, 0))
		return
	}

	if !bulk {
		req := reqs[0]
		s.stampRemote(req, r)
		writeEnvelope(w, s.handleOne(req))
		return
	}

	// every bulk element is wrapped independently; one failure never
	// aborts its siblings, and the response array preserves order
	out := make([]*protocol.Response, len(reqs))
	for i, req := range reqs {
		s.stampRemote(req, r)
		out[i] = s.handleOne(req)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// handleOne is the belt catch: a panic escaping the pipeline still turns
// into a 500 envelope instead of killing the worker.
func (s *Server) handleOne(req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = protocol.ErrorResponse(req, protocol.Internalf("request processing failed: %v", rec), 0)
		}
	}()
	return s.Manager.HandleRequest(req)
}

func (s *Server) stampRemote(req *protocol.Request, r *http.Request) {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	req.RemoteAddr = addr
	req.RemoteHost = addr
}

// writeEnvelope mirrors the envelope's own status onto the HTTP response
// for single requests; bulk arrays always travel as HTTP 200.
func writeEnvelope(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	status := resp.Status
	if status < 200 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
