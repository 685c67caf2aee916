package backend

import (
	"errors"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/convert"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// writeHandler sets one attribute, converting the request's JSON value to
// the attribute's declared type, and returns the previous value.
type writeHandler struct{}

func (h *writeHandler) Verb() protocol.Verb { return protocol.VerbWrite }

func (h *writeHandler) PathConsumed() bool { return false }

func (h *writeHandler) UseAllServers(req *protocol.Request) bool { return false }

func (h *writeHandler) Access(req *protocol.Request) policy.Access {
	a := baseAccess(protocol.VerbWrite, req)
	a.Attribute = req.Attribute
	return a
}

func (h *writeHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	return nil, errors.New("write is dispatched per registry")
}

func (h *writeHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	info, err := reg.Info(req.Name)
	if err != nil {
		return nil, err
	}
	ai, ok := info.Attribute(req.Attribute)
	if !ok {
		return nil, protocol.NotFoundf(protocol.ErrorTypeAttributeNotFound,
			"attribute %s not found on %s", req.Attribute, req.Name.Canonical())
	}
	if !ai.Writable {
		return nil, protocol.NotFoundf(protocol.ErrorTypeAttributeNotFound,
			"attribute %s of %s is not writable", req.Attribute, req.Name.Canonical())
	}

	var previous any
	if ai.Readable {
		if previous, err = reg.GetAttribute(req.Name, req.Attribute); err != nil {
			return nil, err
		}
	}

	value, err := convert.FromJSON(req.Value, ai.Type)
	if err != nil {
		return nil, err
	}
	if err := reg.SetAttribute(req.Name, req.Attribute, value); err != nil {
		return nil, err
	}
	return previous, nil
}
