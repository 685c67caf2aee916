package backend

import (
	"errors"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// ProtocolVersion is the wire protocol revision clients negotiate on.
const ProtocolVersion = "1.0"

// AgentMeta identifies this bridge instance in version responses.
type AgentMeta struct {
	ID          string
	Version     string
	Description string
	Context     string
}

type versionHandler struct {
	agent  AgentMeta
	handle *ServerHandle
}

func (h *versionHandler) Verb() protocol.Verb { return protocol.VerbVersion }

func (h *versionHandler) PathConsumed() bool { return false }

func (h *versionHandler) UseAllServers(req *protocol.Request) bool { return true }

func (h *versionHandler) Access(req *protocol.Request) policy.Access {
	return baseAccess(protocol.VerbVersion, req)
}

func (h *versionHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	return nil, errors.New("version needs no registry")
}

func (h *versionHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	out := map[string]any{
		"protocol": ProtocolVersion,
		"agent":    h.agent.Version,
		"id":       h.agent.ID,
		"info":     h.handle.Describe(),
	}
	if h.agent.Description != "" {
		out["description"] = h.agent.Description
	}
	if h.agent.Context != "" {
		out["context"] = h.agent.Context
	}
	return out, nil
}
