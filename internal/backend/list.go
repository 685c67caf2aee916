package backend

import (
	"errors"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// listHandler renders the metadata tree of every registered bean:
// domain → property list → attributes, operations, class and description.
// The request path drives its own traversal into that tree.
type listHandler struct{}

func (h *listHandler) Verb() protocol.Verb { return protocol.VerbList }

func (h *listHandler) PathConsumed() bool { return true }

func (h *listHandler) UseAllServers(req *protocol.Request) bool { return true }

func (h *listHandler) Access(req *protocol.Request) policy.Access {
	return baseAccess(protocol.VerbList, req)
}

func (h *listHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	return nil, errors.New("list always sees all servers")
}

func (h *listHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	tree := map[string]any{}
	for _, name := range servers.QueryNames(bean.ObjectName{}) {
		info, err := servers.Info(name)
		if err != nil {
			continue
		}
		domain, ok := tree[name.Domain()].(map[string]any)
		if !ok {
			domain = map[string]any{}
			tree[name.Domain()] = domain
		}
		domain[propertyList(name)] = describeBean(info)
	}

	cur := any(tree)
	for i, seg := range req.Path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, h.pathFault(req, i)
		}
		next, ok := m[seg]
		if !ok {
			return nil, h.pathFault(req, i)
		}
		cur = next
	}
	return cur, nil
}

func (h *listHandler) pathFault(req *protocol.Request, seg int) error {
	if req.Options.ValueFault == protocol.FaultIgnore {
		return nil
	}
	return protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound,
		"list path %q has no entry at segment %d", protocol.JoinPath(req.Path), seg)
}

// propertyList renders the name's properties without the domain, keeping
// literal order.
func propertyList(name bean.ObjectName) string {
	lit := name.Literal()
	for i := 0; i < len(lit); i++ {
		if lit[i] == ':' {
			return lit[i+1:]
		}
	}
	return lit
}

func describeBean(info *bean.Info) map[string]any {
	attrs := map[string]any{}
	for _, a := range info.Attributes {
		attrs[a.Name] = map[string]any{
			"type": a.Type,
			"desc": a.Description,
			"rw":   a.Writable,
		}
	}
	ops := map[string]any{}
	for _, o := range info.Operations {
		args := make([]any, len(o.Parameters))
		for i, p := range o.Parameters {
			args[i] = map[string]any{"name": p.Name, "type": p.Type}
		}
		ops[o.Name] = map[string]any{
			"args": args,
			"ret":  o.ReturnType,
			"desc": o.Description,
		}
	}
	return map[string]any{
		"class": info.ClassName,
		"desc":  info.Description,
		"attr":  attrs,
		"op":    ops,
	}
}
