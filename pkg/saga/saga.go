package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current status of a saga
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// StepStatus represents the status of a saga step
type StepStatus string

const (
	StepStatusRunning      StepStatus = "running"
	StepStatusCompleted    StepStatus = "completed"
	StepStatusFailed       StepStatus = "failed"
	StepStatusCompensating StepStatus = "compensating"
	StepStatusCompensated  StepStatus = "compensated"
)

const (
	defaultSagaTimeout = 2 * time.Minute
	defaultStepTimeout = 30 * time.Second
)

// Step is a single unit of work. Compensate may be nil for steps with no side
// effects to undo. Execute and Compensate share the same data pointer, so an
// Execute can record what its Compensate later needs.
type Step[T any] struct {
	Name       string
	Execute    func(ctx context.Context, data *T) error
	Compensate func(ctx context.Context, data *T) error
	Timeout    time.Duration
	// Retries bounds the retries of a failing Compensate.
	Retries int
}

// StepResult represents the result of executing a step
type StepResult struct {
	StepName   string        `json:"step_name"`
	Status     StepStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Definition is an ordered list of steps run against a value of type T.
type Definition[T any] struct {
	Name    string
	Steps   []*Step[T]
	Timeout time.Duration
}

// NewDefinition creates a new saga definition
func NewDefinition[T any](name string) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Timeout: defaultSagaTimeout,
	}
}

// AddStep adds a step to the saga definition
func (d *Definition[T]) AddStep(step *Step[T]) *Definition[T] {
	if step.Timeout == 0 {
		step.Timeout = defaultStepTimeout
	}
	d.Steps = append(d.Steps, step)
	return d
}

// WithTimeout sets the overall saga timeout
func (d *Definition[T]) WithTimeout(timeout time.Duration) *Definition[T] {
	d.Timeout = timeout
	return d
}

// Instance is the persisted record of one saga run.
type Instance struct {
	ID           string          `json:"id"`
	DefinitionID string          `json:"definition_id"`
	Status       Status          `json:"status"`
	Data         json.RawMessage `json:"data,omitempty"`
	StepResults  []*StepResult   `json:"step_results"`
	CurrentStep  int             `json:"current_step"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewInstance creates a new saga instance
func NewInstance(definitionID string) *Instance {
	now := time.Now()
	return &Instance{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		Status:       StatusPending,
		StepResults:  make([]*StepResult, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (i *Instance) setStatus(status Status) {
	i.Status = status
	i.UpdatedAt = time.Now()
}

func (i *Instance) finish(status Status, err error) {
	now := time.Now()
	i.Status = status
	if err != nil {
		i.Error = err.Error()
	}
	i.CompletedAt = &now
	i.UpdatedAt = now
}

// snapshot stores a JSON copy of data on the instance. Data that cannot be
// encoded is simply not recorded.
func (i *Instance) snapshot(data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	i.Data = raw
}

// ToJSON serializes the saga instance to JSON
func (i *Instance) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

// FromJSON deserializes the saga instance from JSON
func FromJSON(data []byte) (*Instance, error) {
	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga instance: %w", err)
	}
	return &instance, nil
}

// Error is returned when a step fails. It unwraps to the step error so callers
// can match domain sentinels with errors.Is.
type Error struct {
	Saga string
	Step string
	Err  error
	// CompensationErr is set when rolling back also failed.
	CompensationErr error
}

func (e *Error) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %s: %v (compensation failed: %v)", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Compensated reports whether every completed step was rolled back.
func (e *Error) Compensated() bool { return e.CompensationErr == nil }
