package backend

import (
	"fmt"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// readHandler serves attribute reads: single attribute, multi-attribute
// fan-out, "all attributes" expansion and pattern queries across every
// registry.
type readHandler struct {
	gate gateFunc
}

func (h *readHandler) Verb() protocol.Verb { return protocol.VerbRead }

func (h *readHandler) PathConsumed() bool { return false }

func (h *readHandler) UseAllServers(req *protocol.Request) bool {
	return req.Name.IsPattern() || len(req.Attributes) > 1 || req.AllAttributes() || req.MultiRead
}

func (h *readHandler) Access(req *protocol.Request) policy.Access {
	a := baseAccess(protocol.VerbRead, req)
	if req.SingleAttribute() {
		a.Attribute = req.Attributes[0]
	}
	return a
}

// HandleSingle is the plain path: one registry, one attribute.
func (h *readHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	return reg.GetAttribute(req.Name, req.Attributes[0])
}

func (h *readHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	if req.Name.IsPattern() {
		return h.readPattern(servers, req)
	}
	return h.readMulti(servers, req)
}

// readPattern unions the pattern matches of every registry, then reads
// each concrete match. Missing attributes are elided, not errored, unless
// the fault policy is strict. A non-empty attribute set that applies
// nowhere is an invalid request; an empty set yields an empty object.
func (h *readHandler) readPattern(servers *Registries, req *protocol.Request) (any, error) {
	names := servers.QueryNames(req.Name)
	out := make(map[string]any)
	matchedAttrs := 0

	for _, name := range names {
		info, err := servers.Info(name)
		if err != nil {
			if req.Options.ValueFault == protocol.FaultStrict {
				return nil, err
			}
			continue
		}
		attrs := h.selectAttributes(info, req.Attributes)
		matchedAttrs += len(attrs)
		values := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			if h.gate != nil {
				a := baseAccess(protocol.VerbRead, req)
				a.Name = name
				a.HasName = true
				a.Attribute = attr
				if !h.gate(a) {
					continue
				}
			}
			v, err := servers.GetAttribute(name, attr)
			if err != nil {
				if req.Options.ValueFault == protocol.FaultStrict {
					return nil, err
				}
				continue
			}
			values[attr] = v
		}
		if len(values) > 0 {
			out[h.renderName(name, req)] = values
		}
	}

	if matchedAttrs == 0 && len(req.Attributes) > 0 {
		return nil, protocol.Invalidf("no attributes %v match pattern %s", req.Attributes, req.Name.Canonical())
	}
	return out, nil
}

// readMulti fans out over the requested (or all readable) attributes of
// one concrete bean. Per-attribute failures resolve through the fault
// policy; the default inserts the failure message as the value.
func (h *readHandler) readMulti(servers *Registries, req *protocol.Request) (any, error) {
	info, err := servers.Info(req.Name)
	if err != nil {
		return nil, err
	}
	attrs := req.Attributes
	if req.AllAttributes() {
		attrs = h.selectAttributes(info, nil)
	}
	out := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if h.gate != nil {
			a := h.Access(req)
			a.Attribute = attr
			if !h.gate(a) {
				continue
			}
		}
		v, err := servers.GetAttribute(req.Name, attr)
		if err != nil {
			switch req.Options.ValueFault {
			case protocol.FaultStrict:
				return nil, err
			case protocol.FaultIgnore:
				out[attr] = nil
			default:
				out[attr] = fmt.Sprintf("ERROR: %v", err)
			}
			continue
		}
		out[attr] = v
	}
	return out, nil
}

// selectAttributes intersects the requested attributes with the bean's
// readable ones; a nil request list selects every readable attribute.
func (h *readHandler) selectAttributes(info *bean.Info, requested []string) []string {
	if len(requested) == 0 {
		var out []string
		for _, a := range info.Attributes {
			if a.Readable {
				out = append(out, a.Name)
			}
		}
		return out
	}
	var out []string
	for _, want := range requested {
		if a, ok := info.Attribute(want); ok && a.Readable {
			out = append(out, want)
		}
	}
	return out
}

func (h *readHandler) renderName(name bean.ObjectName, req *protocol.Request) string {
	if req.Options.CanonicalNaming {
		return name.Canonical()
	}
	return name.Literal()
}
