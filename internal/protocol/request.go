package protocol

import (
	"github.com/nuetzliches/beanbridge/internal/bean"
)

type Verb string

const (
	VerbRead         Verb = "read"
	VerbWrite        Verb = "write"
	VerbExec         Verb = "exec"
	VerbList         Verb = "list"
	VerbSearch       Verb = "search"
	VerbVersion      Verb = "version"
	VerbNotification Verb = "notification"
)

var knownVerbs = map[Verb]bool{
	VerbRead:         true,
	VerbWrite:        true,
	VerbExec:         true,
	VerbList:         true,
	VerbSearch:       true,
	VerbVersion:      true,
	VerbNotification: true,
}

// ValueFaultPolicy governs how per-attribute failures inside a
// multi-attribute read and missing keys during path descent are rendered.
type ValueFaultPolicy int

const (
	// FaultDefault inserts the failure's message as the attribute value in
	// multi-attribute reads and raises 404 on failed path descent.
	FaultDefault ValueFaultPolicy = iota
	// FaultIgnore elides failed descents to null instead of raising.
	FaultIgnore
	// FaultStrict re-raises the first per-attribute failure.
	FaultStrict
)

// Options are the per-request processing knobs. Zero limits mean "use the
// configured defaults"; the backend resolves them before conversion.
type Options struct {
	MaxDepth          int
	MaxCollectionSize int
	MaxObjects        int
	ValueFault        ValueFaultPolicy
	IncludeStackTrace bool
	SerializeError    bool
	CanonicalNaming   bool
}

// DefaultOptions match the wire defaults: stacktraces on, canonical names on.
func DefaultOptions() Options {
	return Options{IncludeStackTrace: true, CanonicalNaming: true}
}

// Target names a downstream bridge for proxy-mode dispatching.
type Target struct {
	URL      string
	User     string
	Password string
}

// Request is the tagged variant over verbs. Verb selects which of the
// verb-specific fields are meaningful.
type Request struct {
	Verb    Verb
	Name    bean.ObjectName
	HasName bool
	Path    []string
	Options Options
	Target  *Target

	// read: nil means all attributes, one entry is single mode, more is
	// multi mode. MultiRead is sticky so a single-element JSON array still
	// renders as a map keyed by attribute.
	Attributes []string
	MultiRead  bool

	// write
	Attribute string
	Value     any

	// exec
	Operation string
	Arguments []any

	// notification
	Command string
	Client  string

	// RemoteHost and RemoteAddr identify the caller for restrictor checks
	// and audit records. They are transport facts, not wire fields, and are
	// never echoed.
	RemoteHost string
	RemoteAddr string
}

// SingleAttribute reports whether the read targets exactly one attribute.
func (r *Request) SingleAttribute() bool {
	return len(r.Attributes) == 1 && !r.MultiRead
}

// AllAttributes reports whether the read asks for every readable attribute.
func (r *Request) AllAttributes() bool {
	return len(r.Attributes) == 0
}

// HistoryKeyName returns the attribute or operation component of the
// request's history key.
func (r *Request) HistoryKeyName() string {
	switch r.Verb {
	case VerbRead:
		if len(r.Attributes) == 1 {
			return r.Attributes[0]
		}
		return ""
	case VerbWrite:
		return r.Attribute
	case VerbExec:
		return r.Operation
	}
	return ""
}

// TargetURL returns the proxy target URL or "".
func (r *Request) TargetURL() string {
	if r.Target == nil {
		return ""
	}
	return r.Target.URL
}

// Echo renders the request back into its wire JSON form for the response
// envelope.
func (r *Request) Echo() map[string]any {
	m := map[string]any{"type": string(r.Verb)}
	if r.HasName {
		if r.Options.CanonicalNaming {
			m["mbean"] = r.Name.Canonical()
		} else {
			m["mbean"] = r.Name.Literal()
		}
	}
	if len(r.Path) > 0 {
		m["path"] = JoinPath(r.Path)
	}
	switch r.Verb {
	case VerbRead:
		switch {
		case r.MultiRead || len(r.Attributes) > 1:
			attrs := make([]any, len(r.Attributes))
			for i, a := range r.Attributes {
				attrs[i] = a
			}
			m["attribute"] = attrs
		case len(r.Attributes) == 1:
			m["attribute"] = r.Attributes[0]
		}
	case VerbWrite:
		m["attribute"] = r.Attribute
		m["value"] = r.Value
	case VerbExec:
		m["operation"] = r.Operation
		if len(r.Arguments) > 0 {
			m["arguments"] = r.Arguments
		}
	case VerbNotification:
		m["command"] = r.Command
		if r.Client != "" {
			m["client"] = r.Client
		}
	}
	if r.Target != nil {
		m["target"] = map[string]any{"url": r.Target.URL}
	}
	return m
}
