package backend

import (
	"log/slog"

	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// DispatchFunc executes one request against the local bean registries.
type DispatchFunc func(req *protocol.Request) (any, error)

// Middleware wraps a dispatch call. Detectors attach middleware to their
// handle to work around product quirks before or after each dispatch.
// The chain is not composed ahead of time: the local dispatcher calls
// Wrap anew on every dispatch.
type Middleware func(next DispatchFunc) DispatchFunc

// ServerHandle describes the hosting product, as determined by the
// detector chain at startup. It is immutable after PostDetect has run.
type ServerHandle struct {
	Vendor  string
	Product string
	Version string

	// AgentURL is the externally reachable endpoint, when known.
	AgentURL string

	// Extra carries product-specific details merged into the version
	// response.
	Extra map[string]any

	// Middleware wraps every dispatch against the local registries.
	Middleware []Middleware

	// PostDetect runs once after handle selection with the runtime
	// detector options. Errors are logged, never re-thrown.
	PostDetect func(servers *Registries, options map[string]any, log *slog.Logger) error
}

// Wrap composes the handle's middleware around next, outermost first.
func (h *ServerHandle) Wrap(next DispatchFunc) DispatchFunc {
	if h == nil {
		return next
	}
	for i := len(h.Middleware) - 1; i >= 0; i-- {
		next = h.Middleware[i](next)
	}
	return next
}

// Describe renders the handle for the version response.
func (h *ServerHandle) Describe() map[string]any {
	if h == nil {
		return map[string]any{}
	}
	out := map[string]any{
		"vendor":  h.Vendor,
		"product": h.Product,
		"version": h.Version,
	}
	if h.AgentURL != "" {
		out["agent-url"] = h.AgentURL
	}
	if len(h.Extra) > 0 {
		out["extraInfo"] = h.Extra
	}
	return out
}
