package debug

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nuetzliches/beanbridge/internal/bean"
)

// Entry is one captured debug record.
type Entry struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Stack     string `json:"stacktrace,omitempty"`
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithMaxEntries(max int) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxEntries = max
		}
	}
}

// Store is a bounded ring of debug records. It only collects while the
// debug flag is on.
type Store struct {
	mu         sync.Mutex
	nowFn      func() time.Time
	maxEntries int
	enabled    bool
	entries    []Entry
}

const defaultMaxEntries = 100

func New(enabled bool, opts ...Option) *Store {
	s := &Store{
		nowFn:      time.Now,
		maxEntries: defaultMaxEntries,
		enabled:    enabled,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a record, evicting from the head once the ring is full.
func (s *Store) Add(level, message, stack string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.entries = append(s.entries, Entry{
		Timestamp: s.nowFn().UnixMilli(),
		Level:     level,
		Message:   message,
		Stack:     stack,
	})
	if excess := len(s.entries) - s.maxEntries; excess > 0 {
		s.entries = s.entries[excess:]
	}
}

func (s *Store) Debugf(format string, args ...any) {
	s.Add("debug", fmt.Sprintf(format, args...), "")
}

func (s *Store) Errorf(err error, format string, args ...any) {
	stack := ""
	if err != nil {
		stack = err.Error()
	}
	s.Add("error", fmt.Sprintf(format, args...), stack)
}

// Enabled reports whether the store collects records.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips collection on or off; turning it off keeps existing
// records until Reset.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Entries returns a snapshot of the ring, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *Store) SetMaxEntries(max int) {
	if max <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEntries = max
	if excess := len(s.entries) - max; excess > 0 {
		s.entries = s.entries[excess:]
	}
}

func (s *Store) MaxEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxEntries
}

// Bean exposes the debug ring with dump and reset operations.
type Bean struct {
	store *Store
}

func NewBean(store *Store) *Bean {
	return &Bean{store: store}
}

func (b *Bean) BeanInfo() bean.Info {
	return bean.Info{
		ClassName:   "debug.Bean",
		Description: "Bounded ring of debug records",
		Attributes: []bean.AttributeInfo{
			{Name: "Enabled", Type: "bool", Readable: true, Writable: true},
			{Name: "MaxEntries", Type: "int", Readable: true, Writable: true},
			{Name: "Size", Type: "int", Readable: true},
		},
		Operations: []bean.OperationInfo{
			{Name: "Dump", ReturnType: "string"},
			{Name: "Reset"},
		},
	}
}

func (b *Bean) GetAttribute(attr string) (any, error) {
	switch attr {
	case "Enabled":
		return b.store.Enabled(), nil
	case "MaxEntries":
		return b.store.MaxEntries(), nil
	case "Size":
		return len(b.store.Entries()), nil
	}
	return nil, bean.ErrAttributeNotFound
}

func (b *Bean) SetAttribute(attr string, value any) error {
	switch attr {
	case "Enabled":
		on, ok := value.(bool)
		if !ok {
			return fmt.Errorf("Enabled expects a bool, got %T", value)
		}
		b.store.SetEnabled(on)
		return nil
	case "MaxEntries":
		switch n := value.(type) {
		case int:
			b.store.SetMaxEntries(n)
		case int64:
			b.store.SetMaxEntries(int(n))
		case float64:
			b.store.SetMaxEntries(int(n))
		default:
			return fmt.Errorf("MaxEntries expects an integer, got %T", value)
		}
		return nil
	}
	return bean.ErrAttributeNotWritable
}

func (b *Bean) Invoke(op string, args []any) (any, error) {
	switch op {
	case "Dump":
		var sb strings.Builder
		for _, e := range b.store.Entries() {
			fmt.Fprintf(&sb, "%s [%s] %s\n", time.UnixMilli(e.Timestamp).Format(time.RFC3339), e.Level, e.Message)
			if e.Stack != "" {
				sb.WriteString(e.Stack)
				sb.WriteByte('\n')
			}
		}
		return sb.String(), nil
	case "Reset":
		b.store.Reset()
		return nil, nil
	}
	return nil, bean.ErrOperationNotFound
}
