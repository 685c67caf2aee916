package bean

import (
	"errors"
	"strings"
	"testing"
)

type cacheBean struct {
	Size    int
	Enabled bool

	flushed int
}

func (b *cacheBean) BeanDescription() string { return "test cache" }

func (b *cacheBean) GetHitRatio() float64 { return 0.5 }

func (b *cacheBean) Flush() int {
	b.flushed++
	return b.flushed
}

func (b *cacheBean) Resize(size int) (int, error) {
	if size < 0 {
		return 0, errors.New("negative size")
	}
	prev := b.Size
	b.Size = size
	return prev, nil
}

func newTestRegistry(t *testing.T) (*StandardRegistry, *cacheBean) {
	t.Helper()
	r := NewRegistry()
	b := &cacheBean{Size: 10, Enabled: true}
	if err := r.Register(MustParseName("app:type=Cache"), b); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r, b
}

func TestRegistryGetAttributeFieldAndAccessor(t *testing.T) {
	r, _ := newTestRegistry(t)
	name := MustParseName("app:type=Cache")

	v, err := r.GetAttribute(name, "Size")
	if err != nil {
		t.Fatalf("get Size: %v", err)
	}
	if v.(int) != 10 {
		t.Fatalf("Size = %v", v)
	}

	v, err = r.GetAttribute(name, "HitRatio")
	if err != nil {
		t.Fatalf("get HitRatio: %v", err)
	}
	if v.(float64) != 0.5 {
		t.Fatalf("HitRatio = %v", v)
	}
}

func TestRegistrySetAttribute(t *testing.T) {
	r, b := newTestRegistry(t)
	name := MustParseName("app:type=Cache")

	if err := r.SetAttribute(name, "Size", float64(42)); err != nil {
		t.Fatalf("set Size: %v", err)
	}
	if b.Size != 42 {
		t.Fatalf("Size = %d", b.Size)
	}

	if err := r.SetAttribute(name, "HitRatio", 0.9); err == nil {
		t.Fatalf("expected not-writable error")
	} else if !errors.Is(err, ErrAttributeNotWritable) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryInvoke(t *testing.T) {
	r, b := newTestRegistry(t)
	name := MustParseName("app:type=Cache")

	out, err := r.Invoke(name, "Flush", nil)
	if err != nil {
		t.Fatalf("invoke Flush: %v", err)
	}
	if out.(int) != 1 || b.flushed != 1 {
		t.Fatalf("Flush result = %v, flushed = %d", out, b.flushed)
	}

	out, err = r.Invoke(name, "Resize", []any{float64(99)})
	if err != nil {
		t.Fatalf("invoke Resize: %v", err)
	}
	if out.(int) != 10 {
		t.Fatalf("Resize previous = %v", out)
	}
	if b.Size != 99 {
		t.Fatalf("Size = %d", b.Size)
	}

	if _, err := r.Invoke(name, "Resize", []any{float64(-1)}); err == nil {
		t.Fatalf("expected operation error")
	}

	if _, err := r.Invoke(name, "Missing", nil); !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestRegistryInfo(t *testing.T) {
	r, _ := newTestRegistry(t)
	info, err := r.Info(MustParseName("app:type=Cache"))
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Description != "test cache" {
		t.Fatalf("description: %q", info.Description)
	}
	a, ok := info.Attribute("Size")
	if !ok || !a.Readable || !a.Writable {
		t.Fatalf("Size attribute: %#v ok=%v", a, ok)
	}
	a, ok = info.Attribute("HitRatio")
	if !ok || !a.Readable || a.Writable {
		t.Fatalf("HitRatio attribute: %#v ok=%v", a, ok)
	}
	if _, ok := info.Operation("Resize", 1); !ok {
		t.Fatalf("Resize operation missing: %#v", info.Operations)
	}
	if _, ok := info.Operation("GetHitRatio", 0); ok {
		t.Fatalf("accessor leaked into operations")
	}
}

func TestRegistryErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	missing := MustParseName("app:type=Missing")

	if _, err := r.GetAttribute(missing, "Size"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
	if _, err := r.GetAttribute(MustParseName("app:type=Cache"), "Nope"); !errors.Is(err, ErrAttributeNotFound) {
		t.Fatalf("expected ErrAttributeNotFound, got %v", err)
	}
	if err := r.Register(MustParseName("app:type=Cache"), &cacheBean{}); !errors.Is(err, ErrInstanceExists) {
		t.Fatalf("expected ErrInstanceExists, got %v", err)
	}
	if err := r.Register(MustParseName("app:type=*"), &cacheBean{}); err == nil {
		t.Fatalf("expected pattern registration to fail")
	}
	if err := r.Unregister(missing); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestRegistryQueryNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register(MustParseName("app:type=Pool"), &cacheBean{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(MustParseName("other:type=Cache"), &cacheBean{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	names := r.QueryNames(MustParseName("app:type=*"))
	if len(names) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(names))
	}
	if names[0].Canonical() != "app:type=Cache" || names[1].Canonical() != "app:type=Pool" {
		t.Fatalf("unexpected order: %v", names)
	}

	all := r.Names()
	if len(all) != 3 {
		t.Fatalf("expected 3 names, got %d", len(all))
	}
}

type dynBean struct {
	attrs map[string]any
}

func (d *dynBean) BeanInfo() Info {
	info := Info{ClassName: "dynBean"}
	for k := range d.attrs {
		info.Attributes = append(info.Attributes, AttributeInfo{Name: k, Type: "any", Readable: true, Writable: true})
	}
	info.Operations = append(info.Operations, OperationInfo{Name: "Echo", Parameters: []ParameterInfo{{Name: "p0", Type: "string"}}, ReturnType: "string"})
	return info
}

func (d *dynBean) GetAttribute(attr string) (any, error) {
	v, ok := d.attrs[attr]
	if !ok {
		return nil, ErrAttributeNotFound
	}
	return v, nil
}

func (d *dynBean) SetAttribute(attr string, value any) error {
	d.attrs[attr] = value
	return nil
}

func (d *dynBean) Invoke(op string, args []any) (any, error) {
	if op != "Echo" {
		return nil, ErrOperationNotFound
	}
	return strings.ToUpper(args[0].(string)), nil
}

func TestRegistryDynamicBean(t *testing.T) {
	r := NewRegistry()
	d := &dynBean{attrs: map[string]any{"Mode": "auto"}}
	name := MustParseName("app:type=Dyn")
	if err := r.Register(name, d); err != nil {
		t.Fatalf("register: %v", err)
	}

	v, err := r.GetAttribute(name, "Mode")
	if err != nil || v != "auto" {
		t.Fatalf("get Mode: %v %v", v, err)
	}
	if err := r.SetAttribute(name, "Mode", "manual"); err != nil {
		t.Fatalf("set Mode: %v", err)
	}
	out, err := r.Invoke(name, "Echo", []any{"hi"})
	if err != nil || out != "HI" {
		t.Fatalf("invoke Echo: %v %v", out, err)
	}
}

func TestPlatformRegistryRuntimeBeans(t *testing.T) {
	r := Platform()
	usage, err := r.GetAttribute(MustParseName("go.runtime:type=Memory"), "HeapMemoryUsage")
	if err != nil {
		t.Fatalf("HeapMemoryUsage: %v", err)
	}
	m, ok := usage.(map[string]any)
	if !ok {
		t.Fatalf("HeapMemoryUsage type: %T", usage)
	}
	for _, k := range []string{"init", "used", "committed", "max"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing key %q in %v", k, m)
		}
	}

	count, err := r.GetAttribute(MustParseName("go.runtime:type=Goroutines"), "Count")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count.(int) <= 0 {
		t.Fatalf("goroutine count: %v", count)
	}
}
