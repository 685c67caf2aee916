package backend

import (
	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// configBean exposes the conversion defaults and the debug flag so
// operators can retune a running bridge through the protocol itself.
type configBean struct {
	manager *Manager
}

func (b *configBean) BeanInfo() bean.Info {
	return bean.Info{
		ClassName:   "backend.configBean",
		Description: "Runtime knobs of the bridge",
		Attributes: []bean.AttributeInfo{
			{Name: "MaxDepth", Type: "int", Readable: true, Writable: true},
			{Name: "MaxCollectionSize", Type: "int", Readable: true, Writable: true},
			{Name: "MaxObjects", Type: "int", Readable: true, Writable: true},
			{Name: "Debug", Type: "bool", Readable: true, Writable: true},
			{Name: "HistoryMaxEntries", Type: "int", Readable: true, Writable: true},
		},
		Operations: []bean.OperationInfo{
			{Name: "Rescan", Description: "rebuild the merged registry set from fresh detector contributions"},
		},
	}
}

func (b *configBean) GetAttribute(attr string) (any, error) {
	limits := b.manager.Limits()
	switch attr {
	case "MaxDepth":
		return limits.MaxDepth, nil
	case "MaxCollectionSize":
		return limits.MaxCollectionSize, nil
	case "MaxObjects":
		return limits.MaxObjects, nil
	case "Debug":
		return b.manager.debug.Enabled(), nil
	case "HistoryMaxEntries":
		return b.manager.history.DefaultLimit(), nil
	}
	return nil, bean.ErrAttributeNotFound
}

func (b *configBean) SetAttribute(attr string, value any) error {
	if attr == "Debug" {
		on, ok := value.(bool)
		if !ok {
			return protocol.Invalidf("Debug expects a bool, got %T", value)
		}
		b.manager.debug.SetEnabled(on)
		return nil
	}

	n, err := intValue(value)
	if err != nil {
		return err
	}
	limits := b.manager.Limits()
	switch attr {
	case "MaxDepth":
		limits.MaxDepth = n
	case "MaxCollectionSize":
		limits.MaxCollectionSize = n
	case "MaxObjects":
		limits.MaxObjects = n
	case "HistoryMaxEntries":
		b.manager.history.SetDefaultLimit(n)
		return nil
	default:
		return bean.ErrAttributeNotWritable
	}
	b.manager.SetLimits(limits)
	return nil
}

func (b *configBean) Invoke(op string, args []any) (any, error) {
	if op == "Rescan" {
		b.manager.Rescan()
		return nil, nil
	}
	return nil, bean.ErrOperationNotFound
}

func intValue(value any) (int, error) {
	switch n := value.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, protocol.Invalidf("expected an integer, got %T", value)
}

// serverBean is the read-only view of the detected server handle.
type serverBean struct {
	handle *ServerHandle
}

func (b *serverBean) BeanInfo() bean.Info {
	return bean.Info{
		ClassName:   "backend.serverBean",
		Description: "Detected hosting product",
		Attributes: []bean.AttributeInfo{
			{Name: "Vendor", Type: "string", Readable: true},
			{Name: "Product", Type: "string", Readable: true},
			{Name: "Version", Type: "string", Readable: true},
			{Name: "AgentURL", Type: "string", Readable: true},
		},
	}
}

func (b *serverBean) GetAttribute(attr string) (any, error) {
	switch attr {
	case "Vendor":
		return b.handle.Vendor, nil
	case "Product":
		return b.handle.Product, nil
	case "Version":
		return b.handle.Version, nil
	case "AgentURL":
		return b.handle.AgentURL, nil
	}
	return nil, bean.ErrAttributeNotFound
}

func (b *serverBean) SetAttribute(attr string, value any) error {
	return bean.ErrAttributeNotWritable
}

func (b *serverBean) Invoke(op string, args []any) (any, error) {
	return nil, bean.ErrOperationNotFound
}
