package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Hennamaria07/movieBookingBackend/pkg/retry"
)

// compensationTimeout bounds each compensation, independent of the caller's context.
const compensationTimeout = 30 * time.Second

// Orchestrator runs saga definitions and records their progress in a Store.
type Orchestrator struct {
	store  Store
	logger Logger
	retry  *retry.Config
}

// Logger interface for saga logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NoOpLogger is a no-op logger implementation
type NoOpLogger struct{}

func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

// OrchestratorConfig holds configuration for the orchestrator
type OrchestratorConfig struct {
	Store  Store
	Logger Logger
	// CompensationRetry shapes the backoff between compensation attempts.
	// MaxRetries is taken from each step.
	CompensationRetry *retry.Config
}

// NewOrchestrator creates a new saga orchestrator
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	if cfg == nil {
		cfg = &OrchestratorConfig{}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}
	rc := cfg.CompensationRetry
	if rc == nil {
		rc = &retry.Config{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		}
	}
	return &Orchestrator{store: store, logger: logger, retry: rc}
}

// Store returns the instance store
func (o *Orchestrator) Store() Store {
	return o.store
}

// Run executes the steps of d in order against data. When a step fails the
// already completed steps are compensated in reverse order and an *Error is
// returned. Compensation runs on a context detached from ctx.
func (d *Definition[T]) Run(ctx context.Context, o *Orchestrator, data *T) (*Instance, error) {
	instance := NewInstance(d.Name)
	instance.snapshot(data)

	if err := o.store.Save(ctx, instance); err != nil {
		o.logger.Warn("failed to save saga instance", "saga_id", instance.ID, "definition", d.Name, "error", err)
	}

	sagaCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		sagaCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	instance.setStatus(StatusRunning)
	o.update(ctx, instance)

	for i, step := range d.Steps {
		instance.CurrentStep = i

		if err := sagaCtx.Err(); err != nil {
			return instance, d.fail(ctx, o, instance, i, step.Name, err, data)
		}

		result := &StepResult{StepName: step.Name, Status: StepStatusRunning, StartedAt: time.Now()}
		instance.StepResults = append(instance.StepResults, result)

		err := runStep(sagaCtx, step, data)
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		if err != nil {
			result.Status = StepStatusFailed
			result.Error = err.Error()
			return instance, d.fail(ctx, o, instance, i, step.Name, err, data)
		}

		result.Status = StepStatusCompleted
		instance.snapshot(data)
		o.update(ctx, instance)
	}

	instance.finish(StatusCompleted, nil)
	o.update(ctx, instance)
	return instance, nil
}

func runStep[T any](ctx context.Context, step *Step[T], data *T) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return step.Execute(ctx, data)
}

// fail compensates steps [0, failed) in reverse and records the outcome.
func (d *Definition[T]) fail(ctx context.Context, o *Orchestrator, instance *Instance, failed int, stepName string, cause error, data *T) error {
	o.logger.Warn("saga step failed, compensating",
		"saga_id", instance.ID, "definition", d.Name, "step", stepName, "error", cause)

	instance.setStatus(StatusCompensating)
	detached := context.WithoutCancel(ctx)
	o.update(detached, instance)

	var compErrs []error
	for i := failed - 1; i >= 0; i-- {
		step := d.Steps[i]
		if step.Compensate == nil {
			continue
		}
		result := instance.StepResults[i]
		result.Status = StepStatusCompensating

		if err := compensateStep(detached, o, step, data); err != nil {
			o.logger.Error("saga compensation failed",
				"saga_id", instance.ID, "definition", d.Name, "step", step.Name, "error", err)
			result.Error = err.Error()
			compErrs = append(compErrs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		result.Status = StepStatusCompensated
	}

	sagaErr := &Error{Saga: d.Name, Step: stepName, Err: cause}
	instance.snapshot(data)
	if len(compErrs) > 0 {
		sagaErr.CompensationErr = errors.Join(compErrs...)
		instance.finish(StatusFailed, sagaErr)
	} else {
		instance.finish(StatusCompensated, sagaErr)
	}
	o.update(detached, instance)
	return sagaErr
}

// Recover retries the compensation of an instance that a previous run left
// failed or mid-compensation, or left running past the definition timeout
// because its process died. Steps already compensated are skipped. It
// reports false for instances that need nothing.
func (d *Definition[T]) Recover(ctx context.Context, o *Orchestrator, instance *Instance) (bool, error) {
	if instance.DefinitionID != d.Name {
		return false, fmt.Errorf("saga %s: instance %s belongs to %s", d.Name, instance.ID, instance.DefinitionID)
	}
	stalled := instance.Status == StatusRunning && d.Timeout > 0 && time.Since(instance.UpdatedAt) > d.Timeout
	if !stalled && !needsCompensation(instance.Status) {
		return false, nil
	}

	var data T
	if len(instance.Data) == 0 {
		return false, fmt.Errorf("saga %s: instance %s has no data snapshot", d.Name, instance.ID)
	}
	if err := json.Unmarshal(instance.Data, &data); err != nil {
		return false, fmt.Errorf("saga %s: decode instance %s: %w", d.Name, instance.ID, err)
	}

	o.logger.Info("recovering saga", "saga_id", instance.ID, "definition", d.Name, "status", instance.Status)
	instance.setStatus(StatusCompensating)
	o.update(ctx, instance)

	var compErrs []error
	for i := min(len(instance.StepResults), len(d.Steps)) - 1; i >= 0; i-- {
		step, result := d.Steps[i], instance.StepResults[i]
		if step.Compensate == nil {
			continue
		}
		if result.Status != StepStatusCompleted && result.Status != StepStatusCompensating {
			continue
		}
		result.Status = StepStatusCompensating
		if err := compensateStep(ctx, o, step, &data); err != nil {
			o.logger.Error("saga recovery failed",
				"saga_id", instance.ID, "definition", d.Name, "step", step.Name, "error", err)
			result.Error = err.Error()
			compErrs = append(compErrs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		result.Status = StepStatusCompensated
		result.Error = ""
	}

	instance.snapshot(&data)
	if len(compErrs) > 0 {
		err := errors.Join(compErrs...)
		instance.finish(StatusFailed, err)
		o.update(ctx, instance)
		return false, fmt.Errorf("saga %s: recover %s: %w", d.Name, instance.ID, err)
	}
	instance.finish(StatusCompensated, nil)
	o.update(ctx, instance)
	return true, nil
}

func compensateStep[T any](ctx context.Context, o *Orchestrator, step *Step[T], data *T) error {
	cfg := *o.retry
	cfg.MaxRetries = step.Retries
	res := retry.Do(ctx, &cfg, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, compensationTimeout)
		defer cancel()
		return step.Compensate(cctx, data)
	})
	return res.Cause()
}

func (o *Orchestrator) update(ctx context.Context, instance *Instance) {
	if err := o.store.Update(ctx, instance); err != nil {
		o.logger.Warn("failed to update saga instance", "saga_id", instance.ID, "status", instance.Status, "error", err)
	}
}
