package policy

import (
	"testing"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

func access(verb protocol.Verb, name, attr string) Access {
	a := Access{Verb: verb, Attribute: attr, RemoteHost: "localhost", RemoteAddr: "127.0.0.1"}
	if name != "" {
		a.Name = bean.MustParseName(name)
		a.HasName = true
	}
	return a
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("default: allow\nbogus: 1\n"))
	if err == nil {
		t.Fatalf("expected unknown-key error")
	}
}

func TestDefaultDecision(t *testing.T) {
	p, err := Parse([]byte("default: deny\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Allow(access(protocol.VerbRead, "a:b=c", "X")) {
		t.Fatalf("deny default should refuse")
	}

	p, err = Parse([]byte("default: allow\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Allow(access(protocol.VerbRead, "a:b=c", "X")) {
		t.Fatalf("allow default should permit")
	}
}

func TestVerbGate(t *testing.T) {
	p, err := Parse([]byte("default: allow\nverbs: [read, version]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Allow(access(protocol.VerbRead, "a:b=c", "X")) {
		t.Fatalf("read should pass verb gate")
	}
	if p.Allow(access(protocol.VerbWrite, "a:b=c", "X")) {
		t.Fatalf("write should fail verb gate")
	}
}

func TestHostGate(t *testing.T) {
	p, err := Parse([]byte("default: allow\nhosts: [\"10.0.0.0/8\", \"192.168.1.5\", \"trusted.example\"]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	a := access(protocol.VerbRead, "a:b=c", "X")
	a.RemoteAddr = "10.1.2.3"
	if !p.Allow(a) {
		t.Fatalf("cidr member should pass")
	}
	a.RemoteAddr = "11.0.0.1"
	a.RemoteHost = "evil.example"
	if p.Allow(a) {
		t.Fatalf("unknown host should fail")
	}
	a.RemoteHost = "trusted.example"
	if !p.Allow(a) {
		t.Fatalf("named host should pass")
	}
	a.RemoteHost = ""
	a.RemoteAddr = "192.168.1.5"
	if !p.Allow(a) {
		t.Fatalf("exact ip should pass")
	}
}

func TestRuleFirstMatchWins(t *testing.T) {
	doc := `
default: deny
rules:
  - name: "go.runtime:type=Compilation"
    allow: false
  - name: "go.runtime:type=*"
    verbs: [read]
    allow: true
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Allow(access(protocol.VerbRead, "go.runtime:type=Compilation", "X")) {
		t.Fatalf("explicit deny rule should win")
	}
	if !p.Allow(access(protocol.VerbRead, "go.runtime:type=Memory", "X")) {
		t.Fatalf("pattern allow rule should match")
	}
	if p.Allow(access(protocol.VerbWrite, "go.runtime:type=Memory", "X")) {
		t.Fatalf("verb-scoped rule must not leak to write")
	}
}

func TestRuleAttributeGlobs(t *testing.T) {
	doc := `
default: deny
rules:
  - name: "go.runtime:type=Memory"
    attributes: ["Heap*"]
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Allow(access(protocol.VerbRead, "go.runtime:type=Memory", "HeapMemoryUsage")) {
		t.Fatalf("glob attribute should match")
	}
	if p.Allow(access(protocol.VerbRead, "go.runtime:type=Memory", "NumGC")) {
		t.Fatalf("non-matching attribute should fall through to deny")
	}
}

func TestRuleWhenExpression(t *testing.T) {
	doc := `
default: deny
rules:
  - name: "app:type=*"
    when: 'remoteAddr == "127.0.0.1" && verb == "read"'
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Allow(access(protocol.VerbRead, "app:type=Cache", "Size")) {
		t.Fatalf("matching condition should allow")
	}
	a := access(protocol.VerbRead, "app:type=Cache", "Size")
	a.RemoteAddr = "10.0.0.1"
	if p.Allow(a) {
		t.Fatalf("failing condition should fall through to deny")
	}
}

func TestRuleWhenCompileError(t *testing.T) {
	doc := "default: deny\nrules:\n  - when: 'verb ++ 1'\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(DenyAll{})
	a := access(protocol.VerbRead, "a:b=c", "X")
	if h.Allow(a) {
		t.Fatalf("deny-all holder should refuse")
	}
	h.Store(AllowAll{})
	if !h.Allow(a) {
		t.Fatalf("swapped holder should permit")
	}
	h.Store(nil)
	if !h.Allow(a) {
		t.Fatalf("nil store should fall back to allow-all")
	}
}
