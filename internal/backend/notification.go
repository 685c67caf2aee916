package backend

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nuetzliches/beanbridge/internal/bean"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Notification is one event delivered to listeners on ping.
type Notification struct {
	Listener  string `json:"listener"`
	MBean     string `json:"mbean"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

type notifListener struct {
	id      string
	pattern bean.ObjectName
	pending []Notification
}

type notifClient struct {
	id        string
	lastPing  time.Time
	nextID    int
	listeners map[string]*notifListener
}

// NotificationBackend keeps the per-client listener registry. Clients that
// stop pinging expire after the TTL.
type NotificationBackend struct {
	mu      sync.Mutex
	nowFn   func() time.Time
	ttl     time.Duration
	clients map[string]*notifClient
}

const defaultClientTTL = 5 * time.Minute

func NewNotificationBackend(nowFn func() time.Time) *NotificationBackend {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &NotificationBackend{
		nowFn:   nowFn,
		ttl:     defaultClientTTL,
		clients: make(map[string]*notifClient),
	}
}

func (b *NotificationBackend) Register() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	id := ulid.Make().String()
	b.clients[id] = &notifClient{
		id:        id,
		lastPing:  b.nowFn(),
		listeners: make(map[string]*notifListener),
	}
	return id
}

func (b *NotificationBackend) Unregister(client string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown notification client %q", client)
	}
	delete(b.clients, client)
	return nil
}

// AddListener attaches a listener for the given name (or pattern) to a
// client and returns the listener id.
func (b *NotificationBackend) AddListener(client string, pattern bean.ObjectName) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[client]
	if !ok {
		return "", protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown notification client %q", client)
	}
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.listeners[id] = &notifListener{id: id, pattern: pattern}
	return id, nil
}

func (b *NotificationBackend) RemoveListener(client, listener string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[client]
	if !ok {
		return protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown notification client %q", client)
	}
	if _, ok := c.listeners[listener]; !ok {
		return protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown listener %q", listener)
	}
	delete(c.listeners, listener)
	return nil
}

// Ping refreshes the client's lease and drains its pending notifications.
func (b *NotificationBackend) Ping(client string) ([]Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[client]
	if !ok {
		return nil, protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown notification client %q", client)
	}
	c.lastPing = b.nowFn()
	var out []Notification
	for _, l := range c.listeners {
		out = append(out, l.pending...)
		l.pending = nil
	}
	return out, nil
}

// List renders a client's listeners.
func (b *NotificationBackend) List(client string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[client]
	if !ok {
		return nil, protocol.NotFoundf(protocol.ErrorTypeInstanceNotFound, "unknown notification client %q", client)
	}
	out := make(map[string]any, len(c.listeners))
	for id, l := range c.listeners {
		out[id] = map[string]any{"mbean": l.pattern.Canonical(), "pending": len(l.pending)}
	}
	return out, nil
}

// Notify queues an event on every listener whose pattern selects name.
func (b *NotificationBackend) Notify(name bean.ObjectName, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	for _, c := range b.clients {
		for _, l := range c.listeners {
			if l.pattern.IsZero() || l.pattern.Matches(name) || l.pattern.Equal(name) {
				l.pending = append(l.pending, Notification{
					Listener:  l.id,
					MBean:     name.Canonical(),
					Payload:   payload,
					Timestamp: now.UnixMilli(),
				})
			}
		}
	}
}

func (b *NotificationBackend) pruneLocked() {
	cutoff := b.nowFn().Add(-b.ttl)
	for id, c := range b.clients {
		if c.lastPing.Before(cutoff) {
			delete(b.clients, id)
		}
	}
}

// notificationHandler routes the sub-verbs onto the backend.
type notificationHandler struct {
	backend *NotificationBackend
}

func (h *notificationHandler) Verb() protocol.Verb { return protocol.VerbNotification }

func (h *notificationHandler) PathConsumed() bool { return false }

func (h *notificationHandler) UseAllServers(req *protocol.Request) bool { return true }

func (h *notificationHandler) Access(req *protocol.Request) policy.Access {
	return baseAccess(protocol.VerbNotification, req)
}

func (h *notificationHandler) HandleSingle(reg bean.Registry, req *protocol.Request) (any, error) {
	return nil, errors.New("notification needs no registry")
}

func (h *notificationHandler) HandleAll(servers *Registries, req *protocol.Request) (any, error) {
	switch req.Command {
	case "register":
		return map[string]any{"id": h.backend.Register()}, nil
	case "unregister":
		return nil, h.backend.Unregister(req.Client)
	case "add":
		if !req.HasName {
			return nil, protocol.Invalidf("notification add needs an mbean")
		}
		id, err := h.backend.AddListener(req.Client, req.Name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"listener": id}, nil
	case "remove":
		listener := ""
		if len(req.Path) > 0 {
			listener = req.Path[0]
		}
		return nil, h.backend.RemoveListener(req.Client, listener)
	case "ping":
		notifications, err := h.backend.Ping(req.Client)
		if err != nil {
			return nil, err
		}
		return map[string]any{"notifications": notifications}, nil
	case "list":
		return h.backend.List(req.Client)
	default:
		return nil, protocol.Invalidf("unknown notification command %q", req.Command)
	}
}
