package exitplan

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"exitexecutor/src/model"
)

type entry struct {
	mu      sync.Mutex // held for a whole check, broker calls included
	plan    atomic.Pointer[model.ExitOrderPlan]
	removed atomic.Bool
}

func newEntry(p model.ExitOrderPlan) *entry {
	e := &entry{}
	e.plan.Store(&p)
	return e
}

func (e *entry) load() model.ExitOrderPlan { return *e.plan.Load() }

// Registry holds the exit plans of one strategy keyed by opening order id.
// The map lock is only held for lookups; each plan has its own lock, held for
// the whole of a check including broker calls, so plans never block each other.
// Readers see the last committed copy and never wait for a check.
type Registry struct {
	strategy model.Strategy

	// checks is shared by every mutation and taken exclusively by Restore.
	checks sync.RWMutex

	mu      sync.RWMutex
	entries map[int64]*entry

	revision atomic.Int64
}

func NewRegistry(strategy model.Strategy) *Registry {
	r := &Registry{
		strategy: strategy,
		entries:  make(map[int64]*entry),
	}
	// wall clock start keeps revisions growing across restarts
	r.revision.Store(time.Now().UnixNano())
	return r
}

func (r *Registry) Strategy() model.Strategy { return r.strategy }

func (r *Registry) nextRevision() int64 { return r.revision.Add(1) }

func (r *Registry) observeRevision(rev int64) {
	for {
		cur := r.revision.Load()
		if rev <= cur || r.revision.CompareAndSwap(cur, rev) {
			return
		}
	}
}

func (r *Registry) Add(p model.ExitOrderPlan) error {
	_, err := r.Register(p)
	return err
}

// Register adds the plan and returns the stored copy. A plan without a
// revision gets a fresh one; a reloaded plan keeps its own.
func (r *Registry) Register(p model.ExitOrderPlan) (model.ExitOrderPlan, error) {
	if p.Strategy != r.strategy {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: strategy %q in %q registry", ErrInvalidPlan, p.Strategy, r.strategy)
	}
	r.checks.RLock()
	defer r.checks.RUnlock()

	p = p.Canonical()
	if p.Revision == 0 {
		p.Revision = r.nextRevision()
	} else {
		r.observeRevision(p.Revision)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[p.OpeningOrderID]; ok {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanExists, p.OpeningOrderID)
	}
	r.entries[p.OpeningOrderID] = newEntry(p)
	return p, nil
}

func (r *Registry) lookup(id int64) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns a copy of the plan.
func (r *Registry) Get(id int64) (model.ExitOrderPlan, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	return e.load(), nil
}

// List returns copies of every plan ordered by opening order id.
func (r *Registry) List() []model.ExitOrderPlan {
	return r.filter(func(model.ExitOrderPlan) bool { return true })
}

func (r *Registry) ListByState(state model.State) []model.ExitOrderPlan {
	return r.filter(func(p model.ExitOrderPlan) bool { return p.State == state })
}

// Active returns the plans that are not terminal yet.
func (r *Registry) Active() []model.ExitOrderPlan {
	return r.filter(func(p model.ExitOrderPlan) bool { return !p.State.Terminal() })
}

func (r *Registry) filter(keep func(model.ExitOrderPlan) bool) []model.ExitOrderPlan {
	r.mu.RLock()
	out := make([]model.ExitOrderPlan, 0, len(r.entries))
	for _, e := range r.entries {
		if p := e.load(); keep(p) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpeningOrderID < out[j].OpeningOrderID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Remove drops the plan and returns its last state.
func (r *Registry) Remove(id int64) (model.ExitOrderPlan, error) {
	r.checks.RLock()
	defer r.checks.RUnlock()

	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed.Store(true)
	return e.load(), nil
}

// commit stores p when fn changed it, under a fresh revision.
func (r *Registry) commit(e *entry, p model.ExitOrderPlan) model.ExitOrderPlan {
	cur := e.load()
	p = p.Canonical()
	p.Revision = cur.Revision
	if reflect.DeepEqual(p, cur) {
		return cur
	}
	p.Revision = r.nextRevision()
	e.plan.Store(&p)
	return p
}

// WithPlan runs fn with exclusive access to a copy of the plan. The copy is
// stored back only when fn returns nil. A plan removed while fn was waiting
// for the lock reports ErrPlanNotFound.
func (r *Registry) WithPlan(id int64, fn func(p *model.ExitOrderPlan) error) (model.ExitOrderPlan, error) {
	r.checks.RLock()
	defer r.checks.RUnlock()

	e, ok := r.lookup(id)
	if !ok {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}

	p := e.load()
	if err := fn(&p); err != nil {
		return e.load(), err
	}
	return r.commit(e, p), nil
}

// WithRemoval is WithPlan for cancellation: when fn succeeds the plan is
// dropped from the registry before the plan lock is released.
func (r *Registry) WithRemoval(id int64, fn func(p *model.ExitOrderPlan) error) (model.ExitOrderPlan, error) {
	r.checks.RLock()
	defer r.checks.RUnlock()

	e, ok := r.lookup(id)
	if !ok {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}

	p := e.load()
	if err := fn(&p); err != nil {
		return e.load(), err
	}
	p = r.commit(e, p)
	e.removed.Store(true)

	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	return p, nil
}

// Snapshot serializes every plan as a JSON object keyed by opening order id.
func (r *Registry) Snapshot() ([]byte, error) {
	plans := r.List()
	out := make(map[string]model.ExitOrderPlan, len(plans))
	for _, p := range plans {
		out[strconv.FormatInt(p.OpeningOrderID, 10)] = p
	}
	return json.MarshalIndent(out, "", "  ")
}

// Restore replaces the registry content with a Snapshot document. Nothing is
// replaced when the document is invalid. Restore fails with ErrBusy while any
// plan is being checked, so an in-flight broker call never commits into a
// plan that was swapped out under it.
func (r *Registry) Restore(data []byte) (int, error) {
	var in map[string]model.ExitOrderPlan
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, fmt.Errorf("%w: decode snapshot: %v", ErrInvalidPlan, err)
	}

	entries := make(map[int64]*entry, len(in))
	var maxRevision int64
	for key, p := range in {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id != p.OpeningOrderID {
			return 0, fmt.Errorf("%w: snapshot key %q does not match opening order id %d", ErrInvalidPlan, key, p.OpeningOrderID)
		}
		if p.Strategy != r.strategy {
			return 0, fmt.Errorf("%w: strategy %q in %q snapshot", ErrInvalidPlan, p.Strategy, r.strategy)
		}
		if p.Revision > maxRevision {
			maxRevision = p.Revision
		}
		entries[id] = newEntry(p.Canonical())
	}

	if !r.checks.TryLock() {
		return 0, fmt.Errorf("%w: restore %s plans", ErrBusy, r.strategy)
	}
	defer r.checks.Unlock()

	r.observeRevision(maxRevision)
	r.mu.Lock()
	old := r.entries
	r.entries = entries
	r.mu.Unlock()

	for _, e := range old {
		e.removed.Store(true)
	}
	return len(entries), nil
}

// Load adds plans that are not registered yet, leaving existing ones alone.
func (r *Registry) Load(plans []model.ExitOrderPlan) int {
	n := 0
	for _, p := range plans {
		if err := r.Add(p); err == nil {
			n++
		}
	}
	return n
}
