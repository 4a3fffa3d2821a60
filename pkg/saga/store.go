package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSagaNotFound is returned when a saga instance is not found
	ErrSagaNotFound = errors.New("saga instance not found")
	// ErrSagaAlreadyExists is returned when trying to create a duplicate saga
	ErrSagaAlreadyExists = errors.New("saga instance already exists")
)

// Store is the interface for persisting saga state
type Store interface {
	// Save persists a saga instance
	Save(ctx context.Context, instance *Instance) error
	// Get retrieves a saga instance by ID
	Get(ctx context.Context, id string) (*Instance, error)
	// Update updates an existing saga instance
	Update(ctx context.Context, instance *Instance) error
	// GetByStatus retrieves saga instances by status
	GetByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error)
	// GetPendingCompensations returns sagas that need compensation
	GetPendingCompensations(ctx context.Context, limit int) ([]*Instance, error)
}

// MemoryStore keeps instances in process memory. Used by tests and the
// in-memory deployment mode.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewMemoryStore creates a new in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*Instance),
	}
}

// Save persists a saga instance
func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[instance.ID]; exists {
		return ErrSagaAlreadyExists
	}

	// Deep copy to prevent external modifications
	copied, err := s.deepCopy(instance)
	if err != nil {
		return err
	}

	s.instances[instance.ID] = copied
	return nil
}

// Get retrieves a saga instance by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, exists := s.instances[id]
	if !exists {
		return nil, ErrSagaNotFound
	}

	// Return a copy to prevent external modifications
	return s.deepCopy(instance)
}

// Update updates an existing saga instance
func (s *MemoryStore) Update(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[instance.ID]; !exists {
		return ErrSagaNotFound
	}

	// Deep copy to prevent external modifications
	copied, err := s.deepCopy(instance)
	if err != nil {
		return err
	}

	s.instances[instance.ID] = copied
	return nil
}

// Delete removes a saga instance
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[id]; !exists {
		return ErrSagaNotFound
	}

	delete(s.instances, id)
	return nil
}

// GetByStatus retrieves saga instances by status
func (s *MemoryStore) GetByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Instance
	for _, instance := range s.instances {
		if instance.Status == status {
			copied, err := s.deepCopy(instance)
			if err != nil {
				return nil, err
			}
			result = append(result, copied)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}

	return result, nil
}

// GetPendingCompensations returns sagas that need compensation
func (s *MemoryStore) GetPendingCompensations(ctx context.Context, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Instance
	for _, instance := range s.instances {
		if needsCompensation(instance.Status) {
			copied, err := s.deepCopy(instance)
			if err != nil {
				return nil, err
			}
			result = append(result, copied)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}

	return result, nil
}

// deepCopy creates a deep copy of a saga instance using JSON serialization
func (s *MemoryStore) deepCopy(instance *Instance) (*Instance, error) {
	data, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}

	var copied Instance
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	return &copied, nil
}

// Count returns the number of stored instances (for testing)
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// needsCompensation reports whether an instance was left with side effects an
// operator has to reconcile.
func needsCompensation(status Status) bool {
	return status == StatusFailed || status == StatusCompensating
}
