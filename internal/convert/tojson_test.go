package convert

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nuetzliches/beanbridge/internal/protocol"
)

func opts() protocol.Options { return protocol.DefaultOptions() }

func TestToJSONScalars(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{"s", "s"},
		{true, true},
		{42, 42},
		{int64(7), int64(7)},
		{1.5, 1.5},
		{time.Duration(5 * time.Second), "5s"},
	}
	for _, tc := range cases {
		got, err := ToJSON(tc.in, nil, opts())
		if err != nil {
			t.Fatalf("ToJSON(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ToJSON(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToJSONMapAndSlice(t *testing.T) {
	in := map[string]any{"a": []int{1, 2, 3}, "b": "x"}
	got, err := ToJSON(in, nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	m := got.(map[string]any)
	if m["b"] != "x" {
		t.Fatalf("b = %v", m["b"])
	}
	if !reflect.DeepEqual(m["a"], []any{1, 2, 3}) {
		t.Fatalf("a = %#v", m["a"])
	}
}

type inner struct {
	Depth int
}

type outer struct {
	Name   string
	Nested inner
	hidden string
}

func TestToJSONStructFields(t *testing.T) {
	got, err := ToJSON(outer{Name: "n", Nested: inner{Depth: 2}, hidden: "x"}, nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	m := got.(map[string]any)
	if m["Name"] != "n" {
		t.Fatalf("Name = %v", m["Name"])
	}
	nested := m["Nested"].(map[string]any)
	if nested["Depth"] != 2 {
		t.Fatalf("Depth = %v", nested["Depth"])
	}
	if _, ok := m["hidden"]; ok {
		t.Fatalf("unexported field leaked: %#v", m)
	}
}

func TestToJSONPathDescent(t *testing.T) {
	in := map[string]any{"usage": map[string]any{"used": int64(10)}, "list": []string{"a", "b"}}

	got, err := ToJSON(in, []string{"usage", "used"}, opts())
	if err != nil {
		t.Fatalf("descent: %v", err)
	}
	if got != int64(10) {
		t.Fatalf("used = %v", got)
	}

	got, err = ToJSON(in, []string{"list", "1"}, opts())
	if err != nil {
		t.Fatalf("descent index: %v", err)
	}
	if got != "b" {
		t.Fatalf("list[1] = %v", got)
	}
}

func TestToJSONPathDescentIntoStruct(t *testing.T) {
	got, err := ToJSON(outer{Name: "n", Nested: inner{Depth: 3}}, []string{"Nested", "Depth"}, opts())
	if err != nil {
		t.Fatalf("descent: %v", err)
	}
	if got != 3 {
		t.Fatalf("Depth = %v", got)
	}
}

func TestToJSONPathFaultPolicy(t *testing.T) {
	in := map[string]any{"a": 1}

	_, err := ToJSON(in, []string{"missing"}, opts())
	var pe *protocol.Error
	if err == nil || !errors.As(err, &pe) || pe.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}

	o := opts()
	o.ValueFault = protocol.FaultIgnore
	got, err := ToJSON(in, []string{"missing"}, o)
	if err != nil || got != nil {
		t.Fatalf("ignore policy: got %v err %v", got, err)
	}
}

func TestToJSONMaxCollectionSize(t *testing.T) {
	o := opts()
	o.MaxCollectionSize = 2
	got, err := ToJSON([]int{1, 2, 3, 4}, nil, o)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	arr := got.([]any)
	if len(arr) != 3 || arr[2] != TruncationMarker {
		t.Fatalf("truncation: %#v", arr)
	}
}

func TestToJSONMaxDepth(t *testing.T) {
	in := map[string]any{"l1": map[string]any{"l2": map[string]any{"l3": 1}}}
	o := opts()
	o.MaxDepth = 2
	got, err := ToJSON(in, nil, o)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	l1 := got.(map[string]any)["l1"].(map[string]any)
	if _, ok := l1["l2"].(string); !ok {
		t.Fatalf("expected string form at depth limit, got %#v", l1["l2"])
	}
}

func TestToJSONMaxObjects(t *testing.T) {
	in := make([]any, 100)
	for i := range in {
		in[i] = map[string]any{"i": i}
	}
	o := opts()
	o.MaxObjects = 10
	got, err := ToJSON(in, nil, o)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	arr := got.([]any)
	if len(arr) >= 100 {
		t.Fatalf("expected truncated output, got %d entries", len(arr))
	}
	if arr[len(arr)-1] != TruncationMarker {
		t.Fatalf("missing truncation marker: %#v", arr[len(arr)-1])
	}
}

type node struct {
	Name string
	Next *node
}

func TestToJSONBreaksCycles(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	got, err := ToJSON(a, nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	m := got.(map[string]any)
	next := m["Next"].(map[string]any)
	if _, ok := next["Next"].(string); !ok {
		t.Fatalf("cycle should collapse to string form, got %#v", next["Next"])
	}
}

func TestToJSONOpaqueFallback(t *testing.T) {
	got, err := ToJSON(make(chan int), nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if _, ok := got.(string); !ok {
		t.Fatalf("expected string form for chan, got %T", got)
	}
}

func TestToJSONByteSliceIsString(t *testing.T) {
	got, err := ToJSON([]byte("abc"), nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if got != "abc" {
		t.Fatalf("bytes = %v", got)
	}
}

func TestFromJSONScalars(t *testing.T) {
	if v, err := FromJSON("42", "int"); err != nil || v != int64(42) {
		t.Fatalf("int: %v %v", v, err)
	}
	if v, err := FromJSON(float64(42), "int"); err != nil || v != int64(42) {
		t.Fatalf("int from float: %v %v", v, err)
	}
	if v, err := FromJSON("true", "bool"); err != nil || v != true {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := FromJSON("1.5", "float64"); err != nil || v != 1.5 {
		t.Fatalf("float: %v %v", v, err)
	}
	if v, err := FromJSON(123, "string"); err != nil || v != "123" {
		t.Fatalf("string: %v %v", v, err)
	}
	if v, err := FromJSON("5s", "time.Duration"); err != nil || v != 5*time.Second {
		t.Fatalf("duration: %v %v", v, err)
	}
	if _, err := FromJSON("nope", "int"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := FromJSON("-1", "uint32"); err == nil {
		t.Fatalf("expected negative uint error")
	}
}

func TestFromJSONCollections(t *testing.T) {
	v, err := FromJSON([]any{"1", "2"}, "[]int")
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if !reflect.DeepEqual(v, []any{int64(1), int64(2)}) {
		t.Fatalf("slice = %#v", v)
	}

	v, err = FromJSON("a,b,c", "[]string")
	if err != nil {
		t.Fatalf("csv slice: %v", err)
	}
	if !reflect.DeepEqual(v, []any{"a", "b", "c"}) {
		t.Fatalf("csv slice = %#v", v)
	}

	v, err = FromJSON(map[string]any{"k": float64(1)}, "map[string]int")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !reflect.DeepEqual(v, map[string]any{"k": int64(1)}) {
		t.Fatalf("map = %#v", v)
	}

	if _, err := FromJSON("notamap", "map[string]int"); err == nil {
		t.Fatalf("expected map conversion error")
	}
}

func TestRoundTripWithinLimits(t *testing.T) {
	// JSON-native values survive fromJSON→toJSON structurally
	in := map[string]any{
		"n": int64(42),
		"s": "text",
		"b": true,
		"l": []any{int64(1), int64(2)},
	}
	native, err := FromJSON(in, "map[string]any")
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	back, err := ToJSON(native, nil, opts())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !reflect.DeepEqual(back, in) {
		t.Fatalf("round trip mismatch:\n in  %#v\n out %#v", in, back)
	}
}

func TestDescendErrorMentionsSegment(t *testing.T) {
	_, err := ToJSON(map[string]any{"a": 1}, []string{"a", "b"}, opts())
	if err == nil || !strings.Contains(err.Error(), "segment 1") {
		t.Fatalf("expected segment info, got %v", err)
	}
}
