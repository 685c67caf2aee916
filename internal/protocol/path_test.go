package protocol

import (
	"reflect"
	"testing"
)

func TestSplitPathEscapes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a/b", []string{"a", "b"}},
		{"a//b", []string{"a", "", "b"}},
		{"a!/b", []string{"a/b"}},
		{"a!!b", []string{"a!b"}},
		{"a!!/b", []string{"a!", "b"}},
		{"a/", []string{"a", ""}},
		{"a!", []string{"a!"}},
	}
	for _, tc := range cases {
		got := SplitPath(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("SplitPath(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	paths := [][]string{
		{"a"},
		{"a", "b"},
		{"a/b", "c"},
		{"a!b", "c!d"},
		{"a", "", "b"},
		{"with/slash", "with!bang", "plain"},
	}
	for _, p := range paths {
		joined := JoinPath(p)
		back := SplitPath(joined)
		if !reflect.DeepEqual(back, p) {
			t.Fatalf("round trip %#v: joined=%q back=%#v", p, joined, back)
		}
	}
}

func TestJoinPathEscapesSpecials(t *testing.T) {
	if got := JoinPath([]string{"a/b", "c"}); got != "a!/b/c" {
		t.Fatalf("JoinPath = %q", got)
	}
	if got := JoinPath([]string{"a!b"}); got != "a!!b" {
		t.Fatalf("JoinPath = %q", got)
	}
}
