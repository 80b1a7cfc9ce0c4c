package docstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store used by fast unit tests that don't need a
// real SurrealDB instance. It implements the same filter/sort/limit and
// set/unset semantics as Surreal.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]any // collection -> id -> doc
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]map[string]any)}
}

func (m *Memory) collection(name string) map[string]map[string]any {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]map[string]any)
		m.data[name] = c
	}
	return c
}

func idField(collection string) string {
	if collection == CollectionCronExecutions {
		return "functionId"
	}
	return "id"
}

func (m *Memory) Insert(_ context.Context, collection string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := doc[idField(collection)].(string)
	cp := cloneDoc(doc)
	m.collection(collection)[id] = cp
	return nil
}

func (m *Memory) FindOneByID(_ context.Context, collection, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection)[id]
	if !ok {
		return nil, nil
	}
	return cloneDoc(doc), nil
}

func (m *Memory) FindByFilterSortLimit(_ context.Context, collection string, filter Filter, s Sort, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, doc := range m.collection(collection) {
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}

	if s.Field != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := compare(out[i][s.Field], out[j][s.Field])
			if s.Descending {
				return less > 0
			}
			return less < 0
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByFilter(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, doc := range m.collection(collection) {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateOneByID(_ context.Context, collection, id string, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection)[id]
	if !ok {
		return nil
	}
	for k, v := range update.Set {
		doc[k] = v
	}
	for _, k := range update.Unset {
		delete(doc, k)
	}
	return nil
}

func (m *Memory) UpsertByFunctionID(_ context.Context, functionID string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(CollectionCronExecutions)
	existing, ok := c[functionID]
	if !ok {
		cp := cloneDoc(doc)
		cp["functionId"] = functionID
		c[functionID] = cp
		return nil
	}
	for k, v := range doc {
		existing[k] = v
	}
	existing["functionId"] = functionID
	return nil
}

func (m *Memory) EnsureIndexes(_ context.Context) error { return nil }

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close(_ context.Context) error { return nil }

func matches(doc map[string]any, filter Filter) bool {
	for k, v := range filter {
		if doc[k] != v {
			return false
		}
	}
	return true
}

// compare orders two field values; used for FindByFilterSortLimit. Handles
// the int64 (timestamp) and string (status, eventName) cases this store
// actually sees.
func compare(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	cp := make(map[string]any, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	return cp
}

var _ Store = (*Memory)(nil)
