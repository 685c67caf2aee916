package history

import (
	"sync"
	"time"

	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// Key identifies one tracked value series: the concrete canonical object
// name plus the attribute or operation, the inner path and the proxy
// target. Patterns are never history keys.
type Key struct {
	Name      string
	Attribute string
	Path      string
	Target    string
}

// KeyFor derives the history key of a request, or ok=false when the
// request kind is not tracked (patterns, verbs other than read/write/exec,
// multi-attribute reads).
func KeyFor(req *protocol.Request) (Key, bool) {
	switch req.Verb {
	case protocol.VerbRead, protocol.VerbWrite, protocol.VerbExec:
	default:
		return Key{}, false
	}
	if !req.HasName || req.Name.IsPattern() {
		return Key{}, false
	}
	if req.Verb == protocol.VerbRead && len(req.Attributes) != 1 {
		return Key{}, false
	}
	return Key{
		Name:      req.Name.Canonical(),
		Attribute: req.HistoryKeyName(),
		Path:      protocol.JoinPath(req.Path),
		Target:    req.TargetURL(),
	}, true
}

type series struct {
	entries []protocol.HistoryEntry
	limit   int
	touched time.Time
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithDefaultLimit sets the per-key entry limit applied to keys without an
// explicit override. Zero disables recording.
func WithDefaultLimit(limit int) Option {
	return func(s *Store) {
		if limit >= 0 {
			s.defaultLimit = limit
		}
	}
}

// WithMaxKeys bounds the number of tracked keys; exceeding it evicts the
// least recently updated key.
func WithMaxKeys(max int) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxKeys = max
		}
	}
}

// WithMaxAge drops entries older than max on access.
func WithMaxAge(max time.Duration) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxAge = max
		}
	}
}

// Store is the bounded mapping from history keys to FIFO queues of prior
// values. All mutation happens under one lock; mutations are brief.
type Store struct {
	mu           sync.Mutex
	nowFn        func() time.Time
	defaultLimit int
	maxKeys      int
	maxAge       time.Duration
	series       map[Key]*series
	limits       map[Key]int
}

const defaultMaxKeys = 256

func New(opts ...Option) *Store {
	s := &Store{
		nowFn:   time.Now,
		maxKeys: defaultMaxKeys,
		series:  make(map[Key]*series),
		limits:  make(map[Key]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateAndAdd snapshots the key's existing queue into the envelope's
// history field, then appends the envelope's value. The snapshot happens
// before the append so clients see prior values, never the one they just
// caused.
func (s *Store) UpdateAndAdd(req *protocol.Request, resp *protocol.Response) {
	if resp == nil || !resp.HasValue {
		return
	}
	key, ok := KeyFor(req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	limit := s.limitLocked(key)
	if limit <= 0 {
		return
	}

	q := s.series[key]
	if q == nil {
		q = &series{limit: limit, touched: now}
		s.series[key] = q
		s.evictKeysLocked()
	}
	q.limit = limit
	q.touched = now
	s.pruneLocked(q, now)

	if len(q.entries) > 0 {
		resp.History = make([]protocol.HistoryEntry, len(q.entries))
		copy(resp.History, q.entries)
	}

	q.entries = append(q.entries, protocol.HistoryEntry{Value: resp.Value, Timestamp: resp.Timestamp})
	if excess := len(q.entries) - q.limit; excess > 0 {
		q.entries = q.entries[excess:]
	}
}

// Get returns a snapshot of the key's queue, pruning stale entries first.
func (s *Store) Get(key Key) []protocol.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.series[key]
	if q == nil {
		return nil
	}
	s.pruneLocked(q, s.nowFn())
	out := make([]protocol.HistoryEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// SetLimit overrides the per-key entry limit. Zero removes the series and
// stops tracking the key.
func (s *Store) SetLimit(key Key, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		s.limits[key] = 0
		delete(s.series, key)
		return
	}
	s.limits[key] = limit
	if q := s.series[key]; q != nil {
		q.limit = limit
		if excess := len(q.entries) - limit; excess > 0 {
			q.entries = q.entries[excess:]
		}
	}
}

// SetDefaultLimit changes the limit applied to keys without an override.
func (s *Store) SetDefaultLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultLimit = limit
}

func (s *Store) DefaultLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultLimit
}

// Reset drops every tracked series and override.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[Key]*series)
	s.limits = make(map[Key]int)
}

// KeyCount returns the number of tracked keys.
func (s *Store) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// EntryCount returns the total number of stored entries.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.series {
		n += len(q.entries)
	}
	return n
}

func (s *Store) limitLocked(key Key) int {
	if l, ok := s.limits[key]; ok {
		return l
	}
	return s.defaultLimit
}

func (s *Store) pruneLocked(q *series, now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.maxAge).UnixMilli()
	i := 0
	for i < len(q.entries) && q.entries[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		q.entries = q.entries[i:]
	}
}

func (s *Store) evictKeysLocked() {
	for len(s.series) > s.maxKeys {
		var (
			oldest    Key
			oldestAt  time.Time
			havePrior bool
		)
		for k, q := range s.series {
			if !havePrior || q.touched.Before(oldestAt) {
				oldest, oldestAt, havePrior = k, q.touched, true
			}
		}
		delete(s.series, oldest)
	}
}
