package backend

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nuetzliches/beanbridge/internal/bean"
)

// Registries is the insertion-ordered merged set of bean registries: the
// platform registry plus everything the detectors contributed. Readers
// take an atomic snapshot; rescans swap the snapshot so dispatch never
// locks.
type Registries struct {
	snapshot atomic.Pointer[[]bean.Registry]

	mu   sync.Mutex
	list []bean.Registry

	// own tracks the bridge's own management beans and the registry they
	// were registered on, so shutdown unregisters symmetrically.
	ownRegistry bean.Registry
	ownNames    []bean.ObjectName
}

func NewRegistries(platform bean.Registry) *Registries {
	r := &Registries{}
	if platform != nil {
		r.list = append(r.list, platform)
	}
	r.publishLocked()
	return r
}

func (r *Registries) publishLocked() {
	snap := make([]bean.Registry, len(r.list))
	copy(snap, r.list)
	r.snapshot.Store(&snap)
}

// Add appends a registry to the merged set unless already present.
func (r *Registries) Add(reg bean.Registry) {
	if reg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.list {
		if existing == reg {
			return
		}
	}
	r.list = append(r.list, reg)
	r.publishLocked()
}

// Snapshot returns the current ordered registry set.
func (r *Registries) Snapshot() []bean.Registry {
	return *r.snapshot.Load()
}

// Rescan rebuilds the merged set from the platform registry plus freshly
// contributed registries and swaps the snapshot atomically.
func (r *Registries) Rescan(contribute func() []bean.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next []bean.Registry
	if len(r.list) > 0 {
		next = r.list[:1:1]
	}
	if contribute != nil {
		for _, reg := range contribute() {
			if reg == nil {
				continue
			}
			dup := false
			for _, existing := range next {
				if existing == reg {
					dup = true
					break
				}
			}
			if !dup {
				next = append(next, reg)
			}
		}
	}
	r.list = next
	r.publishLocked()
}

// RegisterOwnBeans registers the bridge's own management beans on exactly
// one registry, preferring the first (platform) one, and remembers where
// so UnregisterOwnBeans can undo it.
func (r *Registries) RegisterOwnBeans(beans map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return errors.New("no registry available for own beans")
	}
	target := r.list[0]
	for nameStr, b := range beans {
		name, err := bean.ParseName(nameStr)
		if err != nil {
			return fmt.Errorf("own bean name %q: %w", nameStr, err)
		}
		if err := target.Register(name, b); err != nil {
			return fmt.Errorf("register %s: %w", nameStr, err)
		}
		r.ownNames = append(r.ownNames, name)
	}
	r.ownRegistry = target
	return nil
}

// UnregisterOwnBeans removes every bean the bridge registered. One failure
// does not stop the rest; collected failures surface as one aggregate
// error.
func (r *Registries) UnregisterOwnBeans() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ownRegistry == nil {
		return nil
	}
	var errs []error
	for _, name := range r.ownNames {
		if err := r.ownRegistry.Unregister(name); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", name.Canonical(), err))
		}
	}
	r.ownNames = nil
	r.ownRegistry = nil
	return errors.Join(errs...)
}

// GetAttribute asks each registry in order, skipping past "instance not
// found" until one knows the target. Not found everywhere is the
// definitive not-found.
func (r *Registries) GetAttribute(name bean.ObjectName, attr string) (any, error) {
	var out any
	err := r.each(name, func(reg bean.Registry) error {
		v, err := reg.GetAttribute(name, attr)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Registries) SetAttribute(name bean.ObjectName, attr string, value any) error {
	return r.each(name, func(reg bean.Registry) error {
		return reg.SetAttribute(name, attr, value)
	})
}

func (r *Registries) Invoke(name bean.ObjectName, op string, args []any) (any, error) {
	var out any
	err := r.each(name, func(reg bean.Registry) error {
		v, err := reg.Invoke(name, op, args)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Registries) Info(name bean.ObjectName) (*bean.Info, error) {
	var out *bean.Info
	err := r.each(name, func(reg bean.Registry) error {
		info, err := reg.Info(name)
		if err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

// QueryNames unions pattern matches across all registries, preserving
// registry order and eliding duplicates by canonical name.
func (r *Registries) QueryNames(pattern bean.ObjectName) []bean.ObjectName {
	var out []bean.ObjectName
	seen := map[string]bool{}
	for _, reg := range r.Snapshot() {
		for _, name := range reg.QueryNames(pattern) {
			key := name.Canonical()
			if !seen[key] {
				seen[key] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func (r *Registries) each(name bean.ObjectName, fn func(reg bean.Registry) error) error {
	regs := r.Snapshot()
	if len(regs) == 0 {
		return fmt.Errorf("%w: %s", bean.ErrInstanceNotFound, name.Canonical())
	}
	for _, reg := range regs {
		err := fn(reg)
		if err == nil {
			return nil
		}
		if errors.Is(err, bean.ErrInstanceNotFound) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", bean.ErrInstanceNotFound, name.Canonical())
}
