package audit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) Store
}

func contractStoreFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) Store {
				t.Helper()
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) Store {
				t.Helper()
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

func rec(id string, at time.Time, verb string, status int) Record {
	return Record{
		ID:         id,
		Time:       at,
		RemoteAddr: "127.0.0.1",
		Verb:       verb,
		Name:       "go.runtime:type=Memory",
		Attribute:  "HeapAlloc",
		Status:     status,
		Duration:   3 * time.Millisecond,
	}
}

func TestStoreAppendListContract(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, f := range contractStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.new(t)
			for i := 0; i < 5; i++ {
				r := rec(
					"01AUDIT00000000000000000"+string(rune('A'+i)),
					base.Add(time.Duration(i)*time.Minute),
					"read", 200,
				)
				if i == 4 {
					r.Verb = "write"
					r.Status = 403
				}
				if err := s.Append(r); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}

			n, err := s.Count()
			if err != nil || n != 5 {
				t.Fatalf("count = %d err %v", n, err)
			}

			out, err := s.List(ListRequest{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(out) != 5 {
				t.Fatalf("list len = %d", len(out))
			}
			if !out[0].Time.After(out[4].Time) {
				t.Fatalf("expected newest first: %v .. %v", out[0].Time, out[4].Time)
			}

			out, err = s.List(ListRequest{Verb: "write"})
			if err != nil || len(out) != 1 || out[0].Status != 403 {
				t.Fatalf("verb filter: %#v err %v", out, err)
			}

			out, err = s.List(ListRequest{Status: 200, Limit: 2})
			if err != nil || len(out) != 2 {
				t.Fatalf("status filter with limit: %#v err %v", out, err)
			}

			out, err = s.List(ListRequest{Since: base.Add(3 * time.Minute)})
			if err != nil || len(out) != 2 {
				t.Fatalf("since filter: %#v err %v", out, err)
			}
		})
	}
}

func TestStorePruneContract(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, f := range contractStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.new(t)
			for i := 0; i < 4; i++ {
				if err := s.Append(rec(
					"01AUDIT0000000000000000"+string(rune('A'+i))+"P",
					base.Add(time.Duration(i)*time.Hour), "read", 200,
				)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			pruned, err := s.Prune(base.Add(2 * time.Hour))
			if err != nil || pruned != 2 {
				t.Fatalf("pruned = %d err %v", pruned, err)
			}
			n, err := s.Count()
			if err != nil || n != 2 {
				t.Fatalf("count after prune = %d err %v", n, err)
			}
		})
	}
}

func TestMemoryStoreRingBound(t *testing.T) {
	s := NewMemoryStore(WithMaxRows(3))
	base := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.Append(rec("id"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Second), "read", 200)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	n, _ := s.Count()
	if n != 3 {
		t.Fatalf("expected ring bound 3, got %d", n)
	}
	out, _ := s.List(ListRequest{})
	if out[len(out)-1].ID != "idc" {
		t.Fatalf("oldest rows should be evicted: %#v", out)
	}
}

func TestNewPostgresStoreEmptyDSN(t *testing.T) {
	_, err := NewPostgresStore("   ")
	if err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if !strings.Contains(err.Error(), "empty postgres dsn") {
		t.Fatalf("error = %v", err)
	}
}

func TestNewSQLiteStoreEmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
