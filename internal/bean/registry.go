package bean

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInstanceNotFound     = errors.New("instance not found")
	ErrInstanceExists       = errors.New("instance already registered")
	ErrAttributeNotFound    = errors.New("attribute not found")
	ErrAttributeNotReadable = errors.New("attribute is not readable")
	ErrAttributeNotWritable = errors.New("attribute is not writable")
	ErrOperationNotFound    = errors.New("operation not found")
)

// Dynamic is implemented by beans that describe and dispatch themselves
// instead of being reflected over.
type Dynamic interface {
	BeanInfo() Info
	GetAttribute(attr string) (any, error)
	SetAttribute(attr string, value any) error
	Invoke(op string, args []any) (any, error)
}

// Describer optionally supplies a bean description for reflected beans.
type Describer interface {
	BeanDescription() string
}

// Registry is an in-process catalog of management beans addressable by
// object name.
type Registry interface {
	Register(name ObjectName, bean any) error
	Unregister(name ObjectName) error
	GetAttribute(name ObjectName, attr string) (any, error)
	SetAttribute(name ObjectName, attr string, value any) error
	Invoke(name ObjectName, op string, args []any) (any, error)
	Info(name ObjectName) (*Info, error)
	QueryNames(pattern ObjectName) []ObjectName
	Names() []ObjectName
}

type entry struct {
	name ObjectName
	bean any
	info *Info
	val  reflect.Value
}

// StandardRegistry is the default Registry. Registered beans are either
// Dynamic or plain structs whose exported fields and Get*/Is*/Set* methods
// become attributes and whose remaining exported methods become operations.
type StandardRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *StandardRegistry {
	return &StandardRegistry{entries: make(map[string]*entry)}
}

var _ Registry = (*StandardRegistry)(nil)

func (r *StandardRegistry) Register(name ObjectName, bean any) error {
	if name.IsPattern() || name.IsZero() {
		return fmt.Errorf("%w: cannot register pattern %q", ErrInvalidName, name.String())
	}
	info, val, err := describe(bean)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name.Canonical()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, key)
	}
	r.entries[key] = &entry{name: name, bean: bean, info: info, val: val}
	return nil
}

func (r *StandardRegistry) Unregister(name ObjectName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name.Canonical()
	if _, ok := r.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, key)
	}
	delete(r.entries, key)
	return nil
}

func (r *StandardRegistry) lookup(name ObjectName) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name.Canonical()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, name.Canonical())
	}
	return e, nil
}

func (r *StandardRegistry) GetAttribute(name ObjectName, attr string) (any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if d, ok := e.bean.(Dynamic); ok {
		return d.GetAttribute(attr)
	}
	ai, ok := e.info.Attribute(attr)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrAttributeNotFound, attr, name.Canonical())
	}
	if !ai.Readable {
		return nil, fmt.Errorf("%w: %s", ErrAttributeNotReadable, attr)
	}
	if m := accessorMethod(e.val, attr); m.IsValid() {
		return callOperation(m, nil)
	}
	f := structField(e.val, attr)
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %s on %s", ErrAttributeNotFound, attr, name.Canonical())
	}
	return f.Interface(), nil
}

func (r *StandardRegistry) SetAttribute(name ObjectName, attr string, value any) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	if d, ok := e.bean.(Dynamic); ok {
		return d.SetAttribute(attr, value)
	}
	ai, ok := e.info.Attribute(attr)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrAttributeNotFound, attr, name.Canonical())
	}
	if !ai.Writable {
		return fmt.Errorf("%w: %s", ErrAttributeNotWritable, attr)
	}
	if m := e.val.MethodByName("Set" + attr); m.IsValid() && m.Type().NumIn() == 1 {
		arg, err := ConvertValue(m.Type().In(0), value)
		if err != nil {
			return err
		}
		out := m.Call([]reflect.Value{arg})
		return callError(out)
	}
	f := structField(e.val, attr)
	if !f.IsValid() || !f.CanSet() {
		return fmt.Errorf("%w: %s", ErrAttributeNotWritable, attr)
	}
	arg, err := ConvertValue(f.Type(), value)
	if err != nil {
		return err
	}
	f.Set(arg)
	return nil
}

func (r *StandardRegistry) Invoke(name ObjectName, op string, args []any) (any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if d, ok := e.bean.(Dynamic); ok {
		return d.Invoke(op, args)
	}
	if _, ok := e.info.Operation(op, len(args)); !ok {
		return nil, fmt.Errorf("%w: %s/%d on %s", ErrOperationNotFound, op, len(args), name.Canonical())
	}
	m := e.val.MethodByName(op)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %s on %s", ErrOperationNotFound, op, name.Canonical())
	}
	in := make([]reflect.Value, len(args))
	mt := m.Type()
	for i, a := range args {
		v, err := ConvertValue(mt.In(i), a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return callOperation(m, in)
}

func (r *StandardRegistry) Info(name ObjectName) (*Info, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if d, ok := e.bean.(Dynamic); ok {
		info := d.BeanInfo()
		return &info, nil
	}
	return e.info, nil
}

func (r *StandardRegistry) QueryNames(pattern ObjectName) []ObjectName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ObjectName
	for _, e := range r.entries {
		if pattern.IsZero() || pattern.Matches(e.name) {
			out = append(out, e.name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Canonical() < out[j].Canonical() })
	return out
}

func (r *StandardRegistry) Names() []ObjectName {
	return r.QueryNames(ObjectName{})
}

// describe builds the reflective Info for a bean. Dynamic beans describe
// themselves; everything else must be a struct or pointer to struct.
func describe(bean any) (*Info, reflect.Value, error) {
	val := reflect.ValueOf(bean)
	if d, ok := bean.(Dynamic); ok {
		info := d.BeanInfo()
		return &info, val, nil
	}
	if !val.IsValid() {
		return nil, val, errors.New("nil bean")
	}
	t := val.Type()
	elem := t
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, val, fmt.Errorf("bean must be a struct or Dynamic, got %s", t)
	}

	info := &Info{ClassName: elem.String()}
	if d, ok := bean.(Describer); ok {
		info.Description = d.BeanDescription()
	}

	attrs := map[string]*AttributeInfo{}
	addAttr := func(name, typ string, readable, writable bool) {
		a := attrs[name]
		if a == nil {
			a = &AttributeInfo{Name: name, Type: typ}
			attrs[name] = a
		}
		a.Readable = a.Readable || readable
		a.Writable = a.Writable || writable
		if typ != "" {
			a.Type = typ
		}
	}

	structElem := val
	if structElem.Kind() == reflect.Pointer && !structElem.IsNil() {
		structElem = structElem.Elem()
	}
	if structElem.Kind() == reflect.Struct {
		writable := val.Kind() == reflect.Pointer
		for i := 0; i < elem.NumField(); i++ {
			f := elem.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			if f.Tag.Get("bean") == "-" {
				continue
			}
			addAttr(f.Name, f.Type.String(), true, writable)
		}
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() || isReservedMethod(m.Name) {
			continue
		}
		mt := m.Type
		// receiver occupies In(0)
		numIn := mt.NumIn() - 1
		switch {
		case attrName(m.Name, "Get") != "" && numIn == 0 && mt.NumOut() >= 1:
			addAttr(attrName(m.Name, "Get"), mt.Out(0).String(), true, false)
		case attrName(m.Name, "Is") != "" && numIn == 0 && mt.NumOut() >= 1 && mt.Out(0).Kind() == reflect.Bool:
			addAttr(attrName(m.Name, "Is"), mt.Out(0).String(), true, false)
		case attrName(m.Name, "Set") != "" && numIn == 1:
			addAttr(attrName(m.Name, "Set"), mt.In(1).String(), false, true)
		default:
			op := OperationInfo{Name: m.Name}
			for j := 1; j < mt.NumIn(); j++ {
				op.Parameters = append(op.Parameters, ParameterInfo{
					Name: fmt.Sprintf("p%d", j-1),
					Type: mt.In(j).String(),
				})
			}
			if mt.NumOut() > 0 && mt.Out(0) != errType {
				op.ReturnType = mt.Out(0).String()
			}
			info.Operations = append(info.Operations, op)
		}
	}

	for _, a := range attrs {
		info.Attributes = append(info.Attributes, *a)
	}
	sort.Slice(info.Attributes, func(i, j int) bool { return info.Attributes[i].Name < info.Attributes[j].Name })
	sort.Slice(info.Operations, func(i, j int) bool { return info.Operations[i].Name < info.Operations[j].Name })
	return info, val, nil
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// attrName strips prefix from an accessor method name, requiring a non-empty
// remainder starting with an upper-case letter.
func attrName(method, prefix string) string {
	rest := strings.TrimPrefix(method, prefix)
	if rest == method || rest == "" {
		return ""
	}
	if rest[0] < 'A' || rest[0] > 'Z' {
		return ""
	}
	return rest
}

func isReservedMethod(name string) bool {
	switch name {
	case "BeanDescription", "BeanInfo", "String", "Error", "Unwrap":
		return true
	}
	return false
}

func accessorMethod(val reflect.Value, attr string) reflect.Value {
	for _, prefix := range []string{"Get", "Is"} {
		m := val.MethodByName(prefix + attr)
		if m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() >= 1 {
			return m
		}
	}
	return reflect.Value{}
}

func structField(val reflect.Value, attr string) reflect.Value {
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return reflect.Value{}
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return val.FieldByName(attr)
}

// callOperation invokes m and maps (T), (T, error), (error) and () result
// shapes onto (any, error).
func callOperation(m reflect.Value, in []reflect.Value) (any, error) {
	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		if out[len(out)-1].Type() == errType {
			if err := asError(out[len(out)-1]); err != nil {
				return nil, err
			}
		}
		return out[0].Interface(), nil
	}
}

func callError(out []reflect.Value) error {
	if len(out) > 0 && out[len(out)-1].Type() == errType {
		return asError(out[len(out)-1])
	}
	return nil
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// ConvertValue coerces a decoded JSON value onto the target reflect type.
// Numbers arrive as float64 from encoding/json and are narrowed here.
func ConvertValue(t reflect.Type, value any) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(value)
	if v.Type() == t {
		return v, nil
	}
	if v.Type().AssignableTo(t) {
		return v.Convert(t), nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch n := value.(type) {
		case float64:
			return reflect.ValueOf(int64(n)).Convert(t), nil
		case int:
			return reflect.ValueOf(int64(n)).Convert(t), nil
		case int64:
			return reflect.ValueOf(n).Convert(t), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch n := value.(type) {
		case float64:
			if n < 0 {
				return reflect.Value{}, fmt.Errorf("negative value %v for %s", n, t)
			}
			return reflect.ValueOf(uint64(n)).Convert(t), nil
		case int:
			return reflect.ValueOf(uint64(n)).Convert(t), nil
		case uint64:
			return reflect.ValueOf(n).Convert(t), nil
		}
	case reflect.Float32, reflect.Float64:
		switch n := value.(type) {
		case float64:
			return reflect.ValueOf(n).Convert(t), nil
		case int:
			return reflect.ValueOf(float64(n)).Convert(t), nil
		case int64:
			return reflect.ValueOf(float64(n)).Convert(t), nil
		}
	case reflect.String:
		if s, ok := value.(string); ok {
			return reflect.ValueOf(s).Convert(t), nil
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			return reflect.ValueOf(b).Convert(t), nil
		}
	case reflect.Slice:
		if src, ok := value.([]any); ok {
			out := reflect.MakeSlice(t, len(src), len(src))
			for i, e := range src {
				ev, err := ConvertValue(t.Elem(), e)
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		}
	case reflect.Map:
		if src, ok := value.(map[string]any); ok && t.Key().Kind() == reflect.String {
			out := reflect.MakeMapWithSize(t, len(src))
			for k, e := range src {
				ev, err := ConvertValue(t.Elem(), e)
				if err != nil {
					return reflect.Value{}, err
				}
				out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
			}
			return out, nil
		}
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return v, nil
		}
	}
	if v.Type().ConvertibleTo(t) && v.Kind() != reflect.String && t.Kind() != reflect.String {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", value, t)
}
