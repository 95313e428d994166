package blob

import (
	"context"
	"sync"
)

// Memory is an in-process Gateway for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string

	// Fail, when set, is consulted before every operation.
	Fail func(op, key string) error
}

func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "https://blobs.local"
	}
	return &Memory{objects: make(map[string]Object), baseURL: baseURL}
}

func (m *Memory) Put(_ context.Context, obj Object) error {
	if err := m.fail("put", obj.Key); err != nil {
		return err
	}
	obj = withDefaults(obj)
	obj.Body = append([]byte(nil), obj.Body...)
	m.mu.Lock()
	m.objects[obj.Key] = obj
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	if err := m.fail("get", key); err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Body = append([]byte(nil), obj.Body...)
	return obj, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := m.fail("delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) URL(key string) string { return m.baseURL + "/" + key }

func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) fail(op, key string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op, key)
}
