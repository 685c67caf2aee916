package backend

import (
	"errors"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// searchHandler returns the names matching a pattern, unioned across the
// whole registry set. No match is an empty list, not an error.
type searchHandler struct{}

func (h *searchHandler) Verb() protocol.Verb { return protocol.VerbSearch }

func (h *searchHandler) PathConsumed() bool { return true }

func (h *searchHandler) UseAllServers(req *protocol.Request) bool { return true }

func (h *searchHandler) Access(req *protocol.Request) policy.Access {
	return baseAccess(protocol.VerbSearch, req)
}

func (h *searchHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	return nil, errors.New("search always sees all servers")
}

func (h *searchHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	names := servers.QueryNames(req.Name)
	out := make([]any, 0, len(names))
	for _, name := range names {
		if req.Options.CanonicalNaming {
			out = append(out, name.Canonical())
		} else {
			out = append(out, name.Literal())
		}
	}
	return out, nil
}
