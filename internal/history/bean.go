package history

import (
	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Bean exposes the history store over the bridge's own protocol so
// operators can resize limits or reset it remotely.
type Bean struct {
	store *Store
}

func NewBean(store *Store) *Bean {
	return &Bean{store: store}
}

func (b *Bean) BeanInfo() bean.Info {
	return bean.Info{
		ClassName:   "history.Bean",
		Description: "Value history of read, write and exec requests",
		Attributes: []bean.AttributeInfo{
			{Name: "MaxEntries", Type: "int", Description: "default per-key entry limit", Readable: true, Writable: true},
			{Name: "KeyCount", Type: "int", Readable: true},
			{Name: "EntryCount", Type: "int", Readable: true},
		},
		Operations: []bean.OperationInfo{
			{Name: "Reset", ReturnType: ""},
			{Name: "SetLimit", Parameters: []bean.ParameterInfo{
				{Name: "mbean", Type: "string"},
				{Name: "attribute", Type: "string"},
				{Name: "path", Type: "string"},
				{Name: "target", Type: "string"},
				{Name: "limit", Type: "int"},
			}},
			{Name: "Entries", Parameters: []bean.ParameterInfo{
				{Name: "mbean", Type: "string"},
				{Name: "attribute", Type: "string"},
				{Name: "path", Type: "string"},
				{Name: "target", Type: "string"},
			}, ReturnType: "[]any"},
		},
	}
}

func (b *Bean) GetAttribute(attr string) (any, error) {
	switch attr {
	case "MaxEntries":
		return b.store.DefaultLimit(), nil
	case "KeyCount":
		return b.store.KeyCount(), nil
	case "EntryCount":
		return b.store.EntryCount(), nil
	}
	return nil, bean.ErrAttributeNotFound
}

func (b *Bean) SetAttribute(attr string, value any) error {
	if attr != "MaxEntries" {
		return bean.ErrAttributeNotWritable
	}
	n, err := toInt(value)
	if err != nil {
		return err
	}
	b.store.SetDefaultLimit(n)
	return nil
}

func (b *Bean) Invoke(op string, args []any) (any, error) {
	switch op {
	case "Reset":
		b.store.Reset()
		return nil, nil
	case "SetLimit":
		if len(args) != 5 {
			return nil, bean.ErrOperationNotFound
		}
		key, err := keyFromArgs(args[:4])
		if err != nil {
			return nil, err
		}
		limit, err := toInt(args[4])
		if err != nil {
			return nil, err
		}
		b.store.SetLimit(key, limit)
		return nil, nil
	case "Entries":
		if len(args) != 4 {
			return nil, bean.ErrOperationNotFound
		}
		key, err := keyFromArgs(args)
		if err != nil {
			return nil, err
		}
		entries := b.store.Get(key)
		out := make([]any, len(entries))
		for i, e := range entries {
			out[i] = map[string]any{"value": e.Value, "timestamp": e.Timestamp}
		}
		return out, nil
	}
	return nil, bean.ErrOperationNotFound
}

func keyFromArgs(args []any) (Key, error) {
	parts := make([]string, 4)
	for i, a := range args {
		if a == nil {
			continue
		}
		s, ok := a.(string)
		if !ok {
			return Key{}, protocol.Invalidf("history key parts must be strings")
		}
		parts[i] = s
	}
	name, err := bean.ParseName(parts[0])
	if err != nil {
		return Key{}, protocol.Invalidf("invalid object name %q", parts[0])
	}
	return Key{Name: name.Canonical(), Attribute: parts[1], Path: parts[2], Target: parts[3]}, nil
}

func toInt(value any) (int, error) {
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
