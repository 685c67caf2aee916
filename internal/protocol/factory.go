package protocol

import (
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/nuetzliches/beanbridge/internal/bean"
)

// nullMarker is the GET placeholder for a JSON null value or argument.
const nullMarker = "[null]"

// FromPath builds a request from the GET form: the endpoint-relative path
// info plus the query parameters. The first segment selects the verb.
func FromPath(pathInfo string, params url.Values) (*Request, error) {
	segs := SplitPath(strings.Trim(pathInfo, "/"))
	if len(segs) == 0 || segs[0] == "" {
		return nil, Invalidf("missing verb in request path")
	}
	verb := Verb(segs[0])
	if !knownVerbs[verb] {
		return nil, Invalidf("unknown verb %q", segs[0])
	}
	opts, err := optionsFromParams(DefaultOptions(), params)
	if err != nil {
		return nil, err
	}
	req := &Request{Verb: verb, Options: opts}
	rest := segs[1:]

	switch verb {
	case VerbRead:
		if len(rest) < 1 {
			return nil, Invalidf("read needs an object name")
		}
		if err := req.setName(rest[0]); err != nil {
			return nil, err
		}
		if len(rest) > 1 && rest[1] != "" {
			req.Attributes = []string{rest[1]}
		}
		if len(rest) > 2 {
			req.Path = trimPath(rest[2:])
		}
	case VerbWrite:
		if len(rest) < 3 {
			return nil, Invalidf("write needs object name, attribute and value")
		}
		if err := req.setName(rest[0]); err != nil {
			return nil, err
		}
		req.Attribute = rest[1]
		if rest[2] != nullMarker {
			req.Value = rest[2]
		}
		req.Path = trimPath(rest[3:])
	case VerbExec:
		if len(rest) < 2 {
			return nil, Invalidf("exec needs object name and operation")
		}
		if err := req.setName(rest[0]); err != nil {
			return nil, err
		}
		req.Operation = rest[1]
		for _, a := range rest[2:] {
			if a == nullMarker {
				req.Arguments = append(req.Arguments, nil)
			} else {
				req.Arguments = append(req.Arguments, a)
			}
		}
	case VerbSearch:
		if len(rest) != 1 {
			return nil, Invalidf("search needs exactly one pattern")
		}
		if err := req.setName(rest[0]); err != nil {
			return nil, err
		}
	case VerbList:
		req.Path = trimPath(rest)
	case VerbVersion:
		if len(rest) > 0 {
			return nil, Invalidf("version takes no path")
		}
	case VerbNotification:
		if len(rest) < 1 {
			return nil, Invalidf("notification needs a command")
		}
		req.Command = rest[0]
		if len(rest) > 1 {
			req.Client = rest[1]
		}
	}
	return req, nil
}

// ParseBody decodes a POST body into one or more requests. An array root is
// a bulk request preserving order; an object root is a single request. Any
// other root type is invalid.
func ParseBody(r io.Reader, params url.Values) (reqs []*Request, bulk bool, err error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, false, Invalidf("invalid JSON body: %v", err)
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, false, Invalidf("invalid JSON body: trailing document")
	}
	switch doc := root.(type) {
	case map[string]any:
		req, err := FromJSON(doc, params)
		if err != nil {
			return nil, false, err
		}
		return []*Request{req}, false, nil
	case []any:
		out := make([]*Request, 0, len(doc))
		for i, el := range doc {
			obj, ok := el.(map[string]any)
			if !ok {
				return nil, true, Invalidf("bulk element %d is not an object", i)
			}
			req, err := FromJSON(obj, params)
			if err != nil {
				return nil, true, err
			}
			out = append(out, req)
		}
		return out, true, nil
	default:
		return nil, false, Invalidf("request root must be an object or array")
	}
}

var knownRequestKeys = map[string]bool{
	"type": true, "mbean": true, "attribute": true, "path": true,
	"value": true, "operation": true, "arguments": true, "target": true,
	"config": true, "command": true, "client": true,
}

// FromJSON builds a request from one decoded POST document. Unknown keys
// are rejected; processing options from the config key win over query
// parameters.
func FromJSON(doc map[string]any, params url.Values) (*Request, error) {
	for k := range doc {
		if !knownRequestKeys[k] {
			return nil, Invalidf("unknown request key %q", k)
		}
	}
	verbStr, _ := doc["type"].(string)
	verb := Verb(strings.ToLower(strings.TrimSpace(verbStr)))
	if !knownVerbs[verb] {
		return nil, Invalidf("unknown request type %q", verbStr)
	}

	opts, err := optionsFromParams(DefaultOptions(), params)
	if err != nil {
		return nil, err
	}
	if cfg, ok := doc["config"]; ok {
		cfgMap, ok := cfg.(map[string]any)
		if !ok {
			return nil, Invalidf("config must be an object")
		}
		if opts, err = optionsFromConfig(opts, cfgMap); err != nil {
			return nil, err
		}
	}
	req := &Request{Verb: verb, Options: opts}

	if raw, ok := doc["mbean"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, Invalidf("mbean must be a string")
		}
		if err := req.setName(s); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["path"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, Invalidf("path must be a string")
		}
		req.Path = SplitPath(strings.Trim(s, "/"))
	}
	if raw, ok := doc["target"]; ok && raw != nil {
		t, ok := raw.(map[string]any)
		if !ok {
			return nil, Invalidf("target must be an object")
		}
		urlStr, _ := t["url"].(string)
		if urlStr == "" {
			return nil, Invalidf("target needs a url")
		}
		user, _ := t["user"].(string)
		password, _ := t["password"].(string)
		req.Target = &Target{URL: urlStr, User: user, Password: password}
	}

	switch verb {
	case VerbRead:
		if !req.HasName {
			return nil, Invalidf("read needs an mbean")
		}
		switch attr := doc["attribute"].(type) {
		case nil:
			// all attributes
		case string:
			req.Attributes = []string{attr}
		case []any:
			req.MultiRead = true
			for _, a := range attr {
				s, ok := a.(string)
				if !ok {
					return nil, Invalidf("attribute list entries must be strings")
				}
				req.Attributes = append(req.Attributes, s)
			}
		default:
			return nil, Invalidf("attribute must be a string, array or null")
		}
	case VerbWrite:
		if !req.HasName {
			return nil, Invalidf("write needs an mbean")
		}
		attr, ok := doc["attribute"].(string)
		if !ok || attr == "" {
			return nil, Invalidf("write needs an attribute")
		}
		req.Attribute = attr
		req.Value = normalizeNumbers(doc["value"])
	case VerbExec:
		if !req.HasName {
			return nil, Invalidf("exec needs an mbean")
		}
		op, ok := doc["operation"].(string)
		if !ok || op == "" {
			return nil, Invalidf("exec needs an operation")
		}
		req.Operation = op
		if raw, ok := doc["arguments"]; ok && raw != nil {
			args, ok := raw.([]any)
			if !ok {
				return nil, Invalidf("arguments must be an array")
			}
			for _, a := range args {
				req.Arguments = append(req.Arguments, normalizeNumbers(a))
			}
		}
	case VerbSearch:
		if !req.HasName {
			return nil, Invalidf("search needs an mbean pattern")
		}
	case VerbList, VerbVersion:
		// path alone drives list; version has no extra fields
	case VerbNotification:
		cmd, ok := doc["command"].(string)
		if !ok || cmd == "" {
			return nil, Invalidf("notification needs a command")
		}
		req.Command = cmd
		req.Client, _ = doc["client"].(string)
	}
	return req, nil
}

func (r *Request) setName(s string) error {
	name, err := bean.ParseName(s)
	if err != nil {
		return Invalidf("invalid object name %q: %v", s, err)
	}
	r.Name = name
	r.HasName = true
	return nil
}

func trimPath(segs []string) []string {
	for len(segs) > 0 && segs[len(segs)-1] == "" {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return nil
	}
	return segs
}

func optionsFromParams(opts Options, params url.Values) (Options, error) {
	if params == nil {
		return opts, nil
	}
	var err error
	if opts.MaxDepth, err = intParam(params, "maxDepth", opts.MaxDepth); err != nil {
		return opts, err
	}
	if opts.MaxCollectionSize, err = intParam(params, "maxCollectionSize", opts.MaxCollectionSize); err != nil {
		return opts, err
	}
	if opts.MaxObjects, err = intParam(params, "maxObjects", opts.MaxObjects); err != nil {
		return opts, err
	}
	ignore, err := boolParam(params, "ignoreErrors", false)
	if err != nil {
		return opts, err
	}
	if ignore {
		opts.ValueFault = FaultIgnore
	}
	if opts.IncludeStackTrace, err = boolParam(params, "includeStackTrace", opts.IncludeStackTrace); err != nil {
		return opts, err
	}
	if opts.SerializeError, err = boolParam(params, "serializeException", opts.SerializeError); err != nil {
		return opts, err
	}
	if opts.CanonicalNaming, err = boolParam(params, "canonicalNaming", opts.CanonicalNaming); err != nil {
		return opts, err
	}
	return opts, nil
}

var knownConfigKeys = map[string]bool{
	"maxDepth": true, "maxCollectionSize": true, "maxObjects": true,
	"ignoreErrors": true, "valueFault": true, "includeStackTrace": true,
	"serializeException": true, "canonicalNaming": true,
}

func optionsFromConfig(opts Options, cfg map[string]any) (Options, error) {
	for k := range cfg {
		if !knownConfigKeys[k] {
			return opts, Invalidf("unknown config key %q", k)
		}
	}
	var err error
	if opts.MaxDepth, err = intConfig(cfg, "maxDepth", opts.MaxDepth); err != nil {
		return opts, err
	}
	if opts.MaxCollectionSize, err = intConfig(cfg, "maxCollectionSize", opts.MaxCollectionSize); err != nil {
		return opts, err
	}
	if opts.MaxObjects, err = intConfig(cfg, "maxObjects", opts.MaxObjects); err != nil {
		return opts, err
	}
	if raw, ok := cfg["ignoreErrors"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return opts, Invalidf("ignoreErrors must be a boolean")
		}
		if b {
			opts.ValueFault = FaultIgnore
		}
	}
	if raw, ok := cfg["valueFault"]; ok {
		switch raw {
		case "ignore":
			opts.ValueFault = FaultIgnore
		case "strict":
			opts.ValueFault = FaultStrict
		case "default":
			opts.ValueFault = FaultDefault
		default:
			return opts, Invalidf("valueFault must be ignore, strict or default")
		}
	}
	if raw, ok := cfg["includeStackTrace"]; ok {
		if opts.IncludeStackTrace, ok = raw.(bool); !ok {
			return opts, Invalidf("includeStackTrace must be a boolean")
		}
	}
	if raw, ok := cfg["serializeException"]; ok {
		if opts.SerializeError, ok = raw.(bool); !ok {
			return opts, Invalidf("serializeException must be a boolean")
		}
	}
	if raw, ok := cfg["canonicalNaming"]; ok {
		if opts.CanonicalNaming, ok = raw.(bool); !ok {
			return opts, Invalidf("canonicalNaming must be a boolean")
		}
	}
	return opts, nil
}

func intParam(params url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(params.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, Invalidf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func boolParam(params url.Values, key string, def bool) (bool, error) {
	v := strings.TrimSpace(params.Get(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, Invalidf("%s must be a boolean", key)
	}
	return b, nil
}

func intConfig(cfg map[string]any, key string, def int) (int, error) {
	raw, ok := cfg[key]
	if !ok {
		return def, nil
	}
	switch n := raw.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, Invalidf("%s must be a non-negative integer", key)
		}
		return int(i), nil
	case float64:
		if n < 0 || n != float64(int(n)) {
			return 0, Invalidf("%s must be a non-negative integer", key)
		}
		return int(n), nil
	default:
		return 0, Invalidf("%s must be a number", key)
	}
}

// normalizeNumbers rewrites json.Number leaves into int64 or float64 so
// downstream conversion sees plain Go numerics.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
