package backend

import (
	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Handler executes one verb. The manager either hands it the whole merged
// registry set at once, or iterates the set calling HandleSingle per
// registry until one succeeds, depending on UseAllServers.
type Handler interface {
	Verb() protocol.Verb

	// UseAllServers reports whether the request needs the merged registry
	// set at once (patterns, multi-attribute fan-out, traversals).
	UseAllServers(req *protocol.Request) bool

	HandleAll(servers *Registries, req *protocol.Request) (any, error)
	HandleSingle(reg bean.Registry, req *protocol.Request) (any, error)

	// PathConsumed reports whether the handler interprets the request path
	// itself; the manager then skips path descent during conversion.
	PathConsumed() bool

	// Access states the permission question the restrictor must answer
	// before dispatch.
	Access(req *protocol.Request) policy.Access
}

// gateFunc answers restrictor questions inside handler fan-outs.
type gateFunc func(a policy.Access) bool

func baseAccess(verb protocol.Verb, req *protocol.Request) policy.Access {
	return policy.Access{
		Verb:       verb,
		Name:       req.Name,
		HasName:    req.HasName,
		RemoteHost: req.RemoteHost,
		RemoteAddr: req.RemoteAddr,
	}
}
