package backend

import (
	"errors"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/convert"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// execHandler invokes one operation, resolving the signature by name plus
// arity and converting each JSON argument to its declared parameter type.
type execHandler struct{}

func (h *execHandler) Verb() protocol.Verb { return protocol.VerbExec }

func (h *execHandler) PathConsumed() bool { return false }

func (h *execHandler) UseAllServers(req *protocol.Request) bool { return false }

func (h *execHandler) Access(req *protocol.Request) policy.Access {
	a := baseAccess(protocol.VerbExec, req)
	a.Operation = req.Operation
	return a
}

func (h *execHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	return nil, errors.New("exec is dispatched per registry")
}

func (h *execHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	info, err := reg.Info(req.Name)
	if err != nil {
		return nil, err
	}
	op, ok := info.Operation(req.Operation, len(req.Arguments))
	if !ok {
		return nil, protocol.NotFoundf(protocol.ErrorTypeOperationNotFound,
			"operation %s with %d arguments not found on %s",
			req.Operation, len(req.Arguments), req.Name.Canonical())
	}

	args := make([]any, len(req.Arguments))
	for i, raw := range req.Arguments {
		converted, err := convert.FromJSON(raw, op.Parameters[i].Type)
		if err != nil {
			return nil, protocol.Invalidf("argument %d of %s: %v", i, req.Operation, err)
		}
		args[i] = converted
	}

	out, err := reg.Invoke(req.Name, req.Operation, args)
	if err != nil {
		if isDispatchSentinel(err) {
			return nil, err
		}
		return nil, protocol.TargetFailure(err)
	}
	return out, nil
}

// isDispatchSentinel keeps registry-level lookup failures out of the
// target-failure classification.
func isDispatchSentinel(err error) bool {
	return errors.Is(err, bean.ErrInstanceNotFound) ||
		errors.Is(err, bean.ErrOperationNotFound) ||
		errors.Is(err, bean.ErrAttributeNotFound)
}
