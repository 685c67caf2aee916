package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nuetzliches/beanbridge/internal/audit"
	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/convert"
	"github.com/nuetzliches/beanbridge/internal/debug"
	"github.com/nuetzliches/beanbridge/internal/history"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Limits are the conversion defaults applied when a request does not set
// its own. They are swapped atomically so the config bean can retune a
// running bridge.
type Limits struct {
	MaxDepth          int
	MaxCollectionSize int
	MaxObjects        int
}

// Config assembles a Manager.
type Config struct {
	Agent     AgentMeta
	Qualifier string

	Limits            Limits
	HistoryMaxEntries int
	HistoryMaxAge     time.Duration
	DebugMaxEntries   int
	Debug             bool

	// Dispatchers and Detectors name configured extras from the
	// registration tables.
	Dispatchers []string
	Detectors   []string

	// DetectorOptions is handed opaquely to the selected handle's
	// PostDetect hook.
	DetectorOptions map[string]any
}

// Observer receives the outcome of every handled request.
type Observer func(verb string, status int, d time.Duration)

type ManagerOption func(*Manager)

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.nowFn = now
		}
	}
}

func WithAuditStore(store audit.Store) ManagerOption {
	return func(m *Manager) { m.audit = store }
}

func WithObserver(obs Observer) ManagerOption {
	return func(m *Manager) { m.observe = obs }
}

// WithPlatformRegistry overrides the process-wide platform registry,
// mainly so tests get an isolated bean namespace.
func WithPlatformRegistry(reg bean.Registry) ManagerOption {
	return func(m *Manager) { m.platform = reg }
}

// Manager is the single entry point of the request pipeline. It is
// immutable after construction; only the stores behind it mutate.
type Manager struct {
	logger      *slog.Logger
	nowFn       func() time.Time
	restrictor  *policy.Holder
	servers     *Registries
	handle      *ServerHandle
	handlers    map[protocol.Verb]Handler
	dispatchers []Dispatcher
	history     *history.Store
	debug       *debug.Store
	audit       audit.Store
	notif       *NotificationBackend
	observe     Observer
	platform    bean.Registry
	detectors   []Detector
	limits      atomic.Pointer[Limits]
}

// NewManager builds the process-wide backend: merged registries, detector
// chain, verb handler table, dispatcher list and the bridge's own
// management beans.
func NewManager(cfg Config, restrictor *policy.Holder, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if restrictor == nil {
		restrictor = policy.NewHolder(policy.AllowAll{})
	}

	m := &Manager{
		logger:     logger,
		nowFn:      time.Now,
		restrictor: restrictor,
	}
	for _, opt := range opts {
		opt(m)
	}

	limits := cfg.Limits
	m.limits.Store(&limits)

	m.history = history.New(
		history.WithNowFunc(m.nowFn),
		history.WithDefaultLimit(cfg.HistoryMaxEntries),
		history.WithMaxAge(cfg.HistoryMaxAge),
	)
	m.debug = debug.New(cfg.Debug, debug.WithNowFunc(m.nowFn), debug.WithMaxEntries(cfg.DebugMaxEntries))
	m.notif = NewNotificationBackend(m.nowFn)

	if m.platform == nil {
		m.platform = bean.Platform()
	}
	m.servers = NewRegistries(m.platform)
	detectors, err := BuildDetectors(cfg.Detectors)
	if err != nil {
		return nil, err
	}
	m.detectors = detectors
	m.handle = RunDetectors(detectors, m.servers, logger)
	if m.handle.PostDetect != nil {
		if err := m.handle.PostDetect(m.servers, cfg.DetectorOptions, logger); err != nil {
			logger.Error("post_detect_failed", slog.String("product", m.handle.Product), slog.Any("err", err))
		}
	}

	gate := func(a policy.Access) bool { return m.restrictor.Allow(a) }
	m.handlers = map[protocol.Verb]Handler{
		protocol.VerbRead:         &readHandler{gate: gate},
		protocol.VerbWrite:        &writeHandler{},
		protocol.VerbExec:         &execHandler{},
		protocol.VerbList:         &listHandler{},
		protocol.VerbSearch:       &searchHandler{},
		protocol.VerbVersion:      &versionHandler{agent: cfg.Agent, handle: m.handle},
		protocol.VerbNotification: &notificationHandler{backend: m.notif},
	}

	extras, err := BuildDispatchers(cfg.Dispatchers, DispatcherContext{Logger: logger})
	if err != nil {
		return nil, err
	}
	local := &localDispatcher{servers: m.servers, handlers: m.handlers, wrap: m.handle.Wrap}
	m.dispatchers = append(extras, local)

	if err := m.servers.RegisterOwnBeans(m.ownBeans(cfg.Qualifier)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) ownBeans(qualifier string) map[string]any {
	suffix := ""
	if qualifier != "" {
		suffix = ",qualifier=" + qualifier
	}
	return map[string]any{
		"beanbridge:type=Config" + suffix:  &configBean{manager: m},
		"beanbridge:type=History" + suffix: history.NewBean(m.history),
		"beanbridge:type=Debug" + suffix:   debug.NewBean(m.debug),
		"beanbridge:type=Server" + suffix:  &serverBean{handle: m.handle},
	}
}

// History exposes the history store (for the HTTP facade's lifecycle
// tests and the app wiring).
func (m *Manager) History() *history.Store { return m.history }

// DebugStore exposes the debug ring.
func (m *Manager) DebugStore() *debug.Store { return m.debug }

// Handle returns the detected server handle.
func (m *Manager) Handle() *ServerHandle { return m.handle }

// Servers returns the merged registry set.
func (m *Manager) Servers() *Registries { return m.servers }

// Notifications returns the notification backend so the app can feed
// events into it.
func (m *Manager) Notifications() *NotificationBackend { return m.notif }

// Rescan rebuilds the merged registry set from the platform registry and
// fresh detector contributions, swapping the dispatch snapshot
// atomically. Exposed through the config bean.
func (m *Manager) Rescan() {
	m.servers.Rescan(func() []bean.Registry {
		var out []bean.Registry
		for _, d := range m.detectors {
			contributed, err := d.ContributeRegistries()
			if err != nil {
				m.logger.Error("detector_contribution_failed", slog.String("detector", d.Name()), slog.Any("err", err))
				continue
			}
			out = append(out, contributed...)
		}
		return out
	})
}

// SetObserver attaches the request-outcome observer. Called once during
// wiring, before the HTTP surface starts serving.
func (m *Manager) SetObserver(obs Observer) { m.observe = obs }

// Limits returns the current conversion defaults.
func (m *Manager) Limits() Limits { return *m.limits.Load() }

// SetLimits swaps the conversion defaults.
func (m *Manager) SetLimits(l Limits) { m.limits.Store(&l) }

// HandleRequest runs the whole pipeline for one request and always
// returns an envelope; protocol-level failures never escape as errors.
func (m *Manager) HandleRequest(req *protocol.Request) *protocol.Response {
	start := m.nowFn()
	resp := m.process(req)

	elapsed := m.nowFn().Sub(start)
	if resp.Status == 200 {
		m.logger.Debug("request_ok",
			slog.String("verb", string(req.Verb)),
			slog.Duration("duration", elapsed),
		)
		m.debug.Debugf("%s %s ok", req.Verb, nameOf(req))
	} else {
		m.logger.Error("request_failed",
			slog.String("verb", string(req.Verb)),
			slog.Int("status", resp.Status),
			slog.String("error", resp.ErrorMsg),
		)
		m.debug.Add("error", fmt.Sprintf("%s %s failed: %s", req.Verb, nameOf(req), resp.ErrorMsg), "")
	}
	if m.observe != nil {
		m.observe(string(req.Verb), resp.Status, elapsed)
	}
	if m.audit != nil {
		rec := audit.Record{
			ID:         ulid.Make().String(),
			Time:       start,
			RemoteHost: req.RemoteHost,
			RemoteAddr: req.RemoteAddr,
			Verb:       string(req.Verb),
			Name:       nameOf(req),
			Attribute:  req.HistoryKeyName(),
			Status:     resp.Status,
			Duration:   elapsed,
			Error:      resp.ErrorMsg,
		}
		if req.Verb == protocol.VerbExec {
			rec.Attribute = ""
			rec.Operation = req.Operation
		}
		if err := m.audit.Append(rec); err != nil {
			m.logger.Error("audit_append_failed", slog.Any("err", err))
		}
	}
	return resp
}

func (m *Manager) process(req *protocol.Request) *protocol.Response {
	now := m.nowFn().UnixMilli()

	handler, ok := m.handlers[req.Verb]
	if !ok {
		return protocol.ErrorResponse(req, protocol.Invalidf("unsupported verb %q", req.Verb), now)
	}
	if !m.restrictor.Allow(handler.Access(req)) {
		return protocol.ErrorResponse(req,
			protocol.Forbiddenf("%s on %s is not allowed", req.Verb, nameOf(req)), now)
	}

	dispatcher := m.claim(req)
	if dispatcher == nil {
		return protocol.ErrorResponse(req,
			protocol.Internalf("no dispatcher claims request of type %q", req.Verb), now)
	}

	value, pathHandled, err := dispatcher.Dispatch(req)
	if err != nil {
		return protocol.ErrorResponse(req, err, now)
	}

	opts := m.resolveOptions(req)
	path := req.Path
	if pathHandled {
		path = nil
	}
	converted, err := convert.ToJSON(value, path, opts)
	if err != nil {
		return protocol.ErrorResponse(req, err, now)
	}

	resp := protocol.NewResponse(req, converted, now)
	m.history.UpdateAndAdd(req, resp)
	return resp
}

func (m *Manager) claim(req *protocol.Request) Dispatcher {
	for _, d := range m.dispatchers {
		if d.CanHandle(req) {
			return d
		}
	}
	return nil
}

// resolveOptions fills the request's unset limits from the configured
// defaults.
func (m *Manager) resolveOptions(req *protocol.Request) protocol.Options {
	opts := req.Options
	defaults := m.limits.Load()
	if opts.MaxDepth == 0 {
		opts.MaxDepth = defaults.MaxDepth
	}
	if opts.MaxCollectionSize == 0 {
		opts.MaxCollectionSize = defaults.MaxCollectionSize
	}
	if opts.MaxObjects == 0 {
		opts.MaxObjects = defaults.MaxObjects
	}
	return opts
}

// Shutdown unregisters the bridge's own beans and closes the stores, in
// reverse registration order. Failures are collected, not short-circuited.
func (m *Manager) Shutdown() error {
	var errs []error
	if err := m.servers.UnregisterOwnBeans(); err != nil {
		errs = append(errs, err)
	}
	if m.audit != nil {
		if err := m.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func nameOf(req *protocol.Request) string {
	if !req.HasName {
		return ""
	}
	return req.Name.Canonical()
}
