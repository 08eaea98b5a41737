package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Memory is a Host that keeps accessories and their last published values
// in memory. It backs the gRPC surface and tests.
type Memory struct {
	mu          sync.RWMutex
	accessories map[string]*Accessory
	values      map[string]map[string]any
	updates     int
}

func NewMemory() *Memory {
	return &Memory{
		accessories: make(map[string]*Accessory),
		values:      make(map[string]map[string]any),
	}
}

func (m *Memory) Register(_ context.Context, acc *Accessory) error {
	values, err := acc.Values()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessories[acc.ID] = acc
	m.values[acc.ID] = values
	return nil
}

func (m *Memory) Update(_ context.Context, accessoryID string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.values[accessoryID]
	if !ok {
		return fmt.Errorf("%s: %w", accessoryID, ErrUnknownAccessory)
	}
	for k, v := range values {
		current[k] = v
	}
	m.updates++
	return nil
}

func (m *Memory) Unregister(_ context.Context, accessoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accessories, accessoryID)
	delete(m.values, accessoryID)
	return nil
}

// Accessory returns a registered accessory.
func (m *Memory) Accessory(id string) (*Accessory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accessories[id]
	return acc, ok
}

// IDs lists registered accessories in order.
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accessories))
	for id := range m.accessories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Value is the last value published for a property.
func (m *Memory) Value(accessoryID, property string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[accessoryID][property]
	return v, ok
}

// Updates counts Update calls.
func (m *Memory) Updates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// Set writes a property the way a host user would.
func (m *Memory) Set(ctx context.Context, accessoryID, property string, raw []byte) error {
	acc, ok := m.Accessory(accessoryID)
	if !ok {
		return fmt.Errorf("%s: %w", accessoryID, ErrUnknownAccessory)
	}
	return acc.Write(ctx, property, raw)
}

// Fanout publishes to several hosts. Every host is attempted; errors are
// joined.
type Fanout []Host

func (f Fanout) Register(ctx context.Context, acc *Accessory) error {
	var errs []error
	for _, h := range f {
		if err := h.Register(ctx, acc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Update(ctx context.Context, accessoryID string, values map[string]any) error {
	var errs []error
	for _, h := range f {
		if err := h.Update(ctx, accessoryID, values); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Unregister(ctx context.Context, accessoryID string) error {
	var errs []error
	for _, h := range f {
		if err := h.Unregister(ctx, accessoryID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
