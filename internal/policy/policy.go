package policy

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Access is one permission question: may this verb touch this attribute or
// operation of this bean, asked from this remote endpoint.
type Access struct {
	Verb       protocol.Verb
	Name       bean.ObjectName
	HasName    bool
	Attribute  string
	Operation  string
	RemoteHost string
	RemoteAddr string
}

// Restrictor is the policy oracle consulted before every dispatch.
type Restrictor interface {
	Allow(a Access) bool
}

// AllowAll permits everything; it is the default when no policy is loaded.
type AllowAll struct{}

func (AllowAll) Allow(Access) bool { return true }

// DenyAll refuses everything.
type DenyAll struct{}

func (DenyAll) Allow(Access) bool { return false }

// Holder is an atomically swappable restrictor so the policy file can be
// hot-reloaded while requests are in flight. Readers never lock.
type Holder struct {
	cur atomic.Pointer[Restrictor]
}

func NewHolder(r Restrictor) *Holder {
	h := &Holder{}
	h.Store(r)
	return h
}

func (h *Holder) Store(r Restrictor) {
	if r == nil {
		r = AllowAll{}
	}
	h.cur.Store(&r)
}

func (h *Holder) Allow(a Access) bool {
	return (*h.cur.Load()).Allow(a)
}

// policyDoc is the YAML shape of a policy file.
type policyDoc struct {
	Default string      `yaml:"default"`
	Hosts   []string    `yaml:"hosts"`
	Verbs   []string    `yaml:"verbs"`
	Rules   []ruleDoc   `yaml:"rules"`
}

type ruleDoc struct {
	Name       string   `yaml:"name"`
	Verbs      []string `yaml:"verbs"`
	Attributes []string `yaml:"attributes"`
	Operations []string `yaml:"operations"`
	Allow      *bool    `yaml:"allow"`
	When       string   `yaml:"when"`
}

// PolicyRestrictor answers Access questions from a compiled policy
// document: a host gate, a verb gate, then first-match rules, then the
// default decision.
type PolicyRestrictor struct {
	defaultAllow bool
	hosts        []hostMatcher
	verbs        map[protocol.Verb]bool
	rules        []rule
}

type rule struct {
	name       bean.ObjectName
	hasName    bool
	verbs      map[protocol.Verb]bool
	attributes []string
	operations []string
	allow      bool
	when       *vm.Program
}

type hostMatcher struct {
	cidr *net.IPNet
	ip   net.IP
	name string
}

// Parse compiles a YAML policy document.
func Parse(data []byte) (*PolicyRestrictor, error) {
	var doc policyDoc
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	p := &PolicyRestrictor{}
	switch strings.ToLower(strings.TrimSpace(doc.Default)) {
	case "", "deny":
		p.defaultAllow = false
	case "allow":
		p.defaultAllow = true
	default:
		return nil, fmt.Errorf("policy default must be allow or deny, got %q", doc.Default)
	}

	for _, h := range doc.Hosts {
		m, err := parseHost(h)
		if err != nil {
			return nil, err
		}
		p.hosts = append(p.hosts, m)
	}

	if len(doc.Verbs) > 0 {
		p.verbs = map[protocol.Verb]bool{}
		for _, v := range doc.Verbs {
			p.verbs[protocol.Verb(strings.ToLower(strings.TrimSpace(v)))] = true
		}
	}

	for i, rd := range doc.Rules {
		r := rule{allow: true}
		if rd.Allow != nil {
			r.allow = *rd.Allow
		}
		if rd.Name != "" {
			name, err := bean.ParseName(rd.Name)
			if err != nil {
				return nil, fmt.Errorf("policy rule %d: invalid name %q: %w", i, rd.Name, err)
			}
			r.name = name
			r.hasName = true
		}
		if len(rd.Verbs) > 0 {
			r.verbs = map[protocol.Verb]bool{}
			for _, v := range rd.Verbs {
				r.verbs[protocol.Verb(strings.ToLower(strings.TrimSpace(v)))] = true
			}
		}
		r.attributes = rd.Attributes
		r.operations = rd.Operations
		if rd.When != "" {
			prog, err := expr.Compile(rd.When, expr.Env(whenEnv{}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("policy rule %d: invalid when expression: %w", i, err)
			}
			r.when = prog
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

func parseHost(h string) (hostMatcher, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return hostMatcher{}, fmt.Errorf("empty host entry")
	}
	if strings.Contains(h, "/") {
		_, ipnet, err := net.ParseCIDR(h)
		if err != nil {
			return hostMatcher{}, fmt.Errorf("invalid cidr %q: %w", h, err)
		}
		return hostMatcher{cidr: ipnet}, nil
	}
	if ip := net.ParseIP(h); ip != nil {
		return hostMatcher{ip: ip}, nil
	}
	return hostMatcher{name: strings.ToLower(h)}, nil
}

func (m hostMatcher) matches(host, addr string) bool {
	if m.cidr != nil {
		if ip := net.ParseIP(addr); ip != nil && m.cidr.Contains(ip) {
			return true
		}
		if ip := net.ParseIP(host); ip != nil && m.cidr.Contains(ip) {
			return true
		}
		return false
	}
	if m.ip != nil {
		return m.ip.String() == addr || m.ip.String() == host
	}
	return strings.EqualFold(m.name, host)
}

// whenEnv is the expression environment of a rule condition.
type whenEnv struct {
	Verb       string `expr:"verb"`
	MBean      string `expr:"mbean"`
	Attribute  string `expr:"attribute"`
	Operation  string `expr:"operation"`
	RemoteHost string `expr:"remoteHost"`
	RemoteAddr string `expr:"remoteAddr"`
}

func (p *PolicyRestrictor) Allow(a Access) bool {
	if len(p.hosts) > 0 {
		permitted := false
		for _, h := range p.hosts {
			if h.matches(a.RemoteHost, a.RemoteAddr) {
				permitted = true
				break
			}
		}
		if !permitted {
			return false
		}
	}
	if p.verbs != nil && !p.verbs[a.Verb] {
		return false
	}
	for _, r := range p.rules {
		if r.matches(a) {
			return r.allow
		}
	}
	return p.defaultAllow
}

func (r *rule) matches(a Access) bool {
	if r.verbs != nil && !r.verbs[a.Verb] {
		return false
	}
	if r.hasName {
		if !a.HasName || !r.name.Matches(a.Name) {
			return false
		}
	}
	if len(r.attributes) > 0 {
		if a.Attribute == "" || !matchAnyGlob(r.attributes, a.Attribute) {
			return false
		}
	}
	if len(r.operations) > 0 {
		if a.Operation == "" || !matchAnyGlob(r.operations, a.Operation) {
			return false
		}
	}
	if r.when != nil {
		out, err := expr.Run(r.when, whenEnv{
			Verb:       string(a.Verb),
			MBean:      a.Name.Canonical(),
			Attribute:  a.Attribute,
			Operation:  a.Operation,
			RemoteHost: a.RemoteHost,
			RemoteAddr: a.RemoteAddr,
		})
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		if !ok {
			return false
		}
	}
	return true
}

func matchAnyGlob(patterns []string, s string) bool {
	for _, p := range patterns {
		if globMatch(p, s) {
			return true
		}
	}
	return false
}

func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if globMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		return s != "" && globMatch(pattern[1:], s[1:])
	default:
		return s != "" && s[0] == pattern[0] && globMatch(pattern[1:], s[1:])
	}
}
