package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Dispatcher routes a request to an execution backend. The first
// dispatcher whose CanHandle returns true claims the request; configured
// extras are consulted before the local one.
type Dispatcher interface {
	Name() string
	CanHandle(req *protocol.Request) bool

	// Dispatch executes the request. pathHandled reports whether the
	// returned value already reflects the request path, in which case the
	// manager skips path descent during conversion.
	Dispatch(req *protocol.Request) (value any, pathHandled bool, err error)
}

// DispatcherContext carries the build-time collaborators handed to
// dispatcher constructors.
type DispatcherContext struct {
	Logger *slog.Logger
}

// DispatcherConstructor builds a named extra dispatcher. Extras register
// by name; configuration selects them by the same name.
type DispatcherConstructor func(ctx DispatcherContext) (Dispatcher, error)

var extraDispatchers = map[string]DispatcherConstructor{}

func RegisterDispatcher(name string, ctor DispatcherConstructor) {
	extraDispatchers[name] = ctor
}

// BuildDispatchers instantiates the configured extra dispatchers in the
// order given. Unknown names are an error.
func BuildDispatchers(names []string, ctx DispatcherContext) ([]Dispatcher, error) {
	out := make([]Dispatcher, 0, len(names))
	for _, name := range names {
		ctor, ok := extraDispatchers[name]
		if !ok {
			known := make([]string, 0, len(extraDispatchers))
			for k := range extraDispatchers {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown dispatcher %q (registered: %v)", name, known)
		}
		d, err := ctor(ctx)
		if err != nil {
			return nil, fmt.Errorf("build dispatcher %q: %w", name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// localDispatcher executes requests against the in-process registries via
// the verb handler table. It claims everything without a proxy target.
type localDispatcher struct {
	servers  *Registries
	handlers map[protocol.Verb]Handler
	wrap     func(DispatchFunc) DispatchFunc
}

func (d *localDispatcher) Name() string { return "local" }

func (d *localDispatcher) CanHandle(req *protocol.Request) bool {
	return req.Target == nil
}

func (d *localDispatcher) Dispatch(req *protocol.Request) (any, bool, error) {
	handler, ok := d.handlers[req.Verb]
	if !ok {
		return nil, false, protocol.Invalidf("unsupported verb %q", req.Verb)
	}
	run := d.wrap(func(req *protocol.Request) (any, error) {
		return d.execute(handler, req)
	})
	value, err := run(req)
	return value, handler.PathConsumed(), err
}

// execute either hands the handler the whole merged set, or walks the set
// calling it once per registry. "Instance not found" on every registry
// re-raises as the definitive not-found.
func (d *localDispatcher) execute(handler Handler, req *protocol.Request) (any, error) {
	if handler.UseAllServers(req) {
		return handler.HandleAll(d.servers, req)
	}
	regs := d.servers.Snapshot()
	for _, reg := range regs {
		value, err := handler.HandleSingle(reg, req)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, bean.ErrInstanceNotFound) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", bean.ErrInstanceNotFound, req.Name.Canonical())
}
