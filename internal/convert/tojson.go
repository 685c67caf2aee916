package convert

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// TruncationMarker marks a collection cut short by maxCollectionSize or by
// an exhausted maxObjects budget: sequences get it as a last element, maps
// and structs as a key set to true. A compound value reached once the
// budget is spent renders as its string form instead.
const TruncationMarker = "(truncated)"

// state carries the per-conversion budget and the identity set of compound
// values on the current descent, used to break cycles.
type state struct {
	opts    protocol.Options
	objects int
	seen    map[uintptr]bool
}

func (s *state) spend() bool {
	if s.opts.MaxObjects <= 0 {
		return true
	}
	if s.objects >= s.opts.MaxObjects {
		return false
	}
	s.objects++
	return true
}

// ToJSON converts a native value into JSON-native types, first descending
// along path, then expanding subject to the request limits. A failed
// descent resolves per the fault policy: ignore yields null, anything else
// raises 404.
func ToJSON(value any, path []string, opts protocol.Options) (any, error) {
	s := &state{opts: opts, seen: make(map[uintptr]bool)}
	cur := value
	for i, seg := range path {
		next, err := descend(cur, seg)
		if err != nil {
			if opts.ValueFault == protocol.FaultIgnore {
				return nil, nil
			}
			return nil, protocol.NotFoundf(protocol.ErrorTypeAttributeNotFound,
				"path %q not applicable at segment %d: %v", protocol.JoinPath(path), i, err)
		}
		cur = next
	}
	return s.expand(cur, 0), nil
}

// descend resolves one path segment against the current value: integer
// index for sequences, key for mappings, field or accessor name for beans.
func descend(value any, seg string) (any, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("nil value")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("nil value")
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("index %q is not a number", seg)
		}
		if idx < 0 || idx >= v.Len() {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, v.Len())
		}
		return v.Index(idx).Interface(), nil
	case reflect.Map:
		for _, k := range v.MapKeys() {
			if renderKey(k) == seg {
				return v.MapIndex(k).Interface(), nil
			}
		}
		return nil, fmt.Errorf("key %q not found", seg)
	case reflect.Struct:
		if f := v.FieldByName(seg); f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
		if v.CanAddr() {
			v = v.Addr()
		}
		for _, prefix := range []string{"Get", "Is"} {
			m := v.MethodByName(prefix + seg)
			if m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() >= 1 {
				return m.Call(nil)[0].Interface(), nil
			}
		}
		return nil, fmt.Errorf("field %q not found", seg)
	default:
		return nil, fmt.Errorf("cannot descend into %s", v.Kind())
	}
}

// expand converts the value into JSON-native types. depth counts compound
// levels already expanded; once it reaches the configured maxDepth,
// compound values collapse to their string form.
func (s *state) expand(value any, depth int) any {
	if value == nil {
		return nil
	}
	switch t := value.(type) {
	case string:
		return t
	case bool:
		return t
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case error:
		return t.Error()
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		id, compound := identity(v)
		if compound {
			if s.seen[id] {
				return stringForm(value)
			}
			s.seen[id] = true
			defer delete(s.seen, id)
		}
		return s.expand(v.Elem().Interface(), depth)
	case reflect.Slice, reflect.Array:
		return s.expandSequence(v, depth)
	case reflect.Map:
		return s.expandMap(v, depth)
	case reflect.Struct:
		return s.expandStruct(v, depth)
	default:
		// chan, func, complex and the rest are opaque
		return stringForm(value)
	}
}

func (s *state) enterCompound(v reflect.Value, depth int) (ok bool, release func()) {
	if s.opts.MaxDepth > 0 && depth >= s.opts.MaxDepth {
		return false, nil
	}
	if !s.spend() {
		return false, nil
	}
	id, compound := identity(v)
	if !compound {
		return true, func() {}
	}
	if s.seen[id] {
		return false, nil
	}
	s.seen[id] = true
	return true, func() { delete(s.seen, id) }
}

func (s *state) expandSequence(v reflect.Value, depth int) any {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		// byte slices render as their string form
		return string(v.Bytes())
	}
	ok, release := s.enterCompound(v, depth)
	if !ok {
		return stringForm(v.Interface())
	}
	defer release()

	n := v.Len()
	truncated := false
	if s.opts.MaxCollectionSize > 0 && n > s.opts.MaxCollectionSize {
		n = s.opts.MaxCollectionSize
		truncated = true
	}
	out := make([]any, 0, n+1)
	for i := 0; i < n; i++ {
		if !s.spend() {
			truncated = true
			break
		}
		out = append(out, s.expand(v.Index(i).Interface(), depth+1))
	}
	if truncated {
		out = append(out, TruncationMarker)
	}
	return out
}

func (s *state) expandMap(v reflect.Value, depth int) any {
	ok, release := s.enterCompound(v, depth)
	if !ok {
		return stringForm(v.Interface())
	}
	defer release()

	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return renderKey(keys[i]) < renderKey(keys[j]) })

	truncated := false
	if s.opts.MaxCollectionSize > 0 && len(keys) > s.opts.MaxCollectionSize {
		keys = keys[:s.opts.MaxCollectionSize]
		truncated = true
	}
	out := make(map[string]any, len(keys)+1)
	for _, k := range keys {
		if !s.spend() {
			truncated = true
			break
		}
		out[renderKey(k)] = s.expand(v.MapIndex(k).Interface(), depth+1)
	}
	if truncated {
		out[TruncationMarker] = true
	}
	return out
}

// expandStruct reflects a bean into a JSON object over its exported fields.
func (s *state) expandStruct(v reflect.Value, depth int) any {
	ok, release := s.enterCompound(v, depth)
	if !ok {
		return stringForm(v.Interface())
	}
	defer release()

	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous {
			if inner, okm := s.expand(v.Field(i).Interface(), depth).(map[string]any); okm {
				for k, val := range inner {
					out[k] = val
				}
				continue
			}
		}
		if !s.spend() {
			out[TruncationMarker] = true
			break
		}
		out[f.Name] = s.expand(v.Field(i).Interface(), depth+1)
	}
	return out
}

// identity yields the cycle-tracking id of a value; only reference kinds
// can participate in cycles.
func identity(v reflect.Value) (uintptr, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

func renderKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

func stringForm(value any) string {
	return fmt.Sprint(value)
}
