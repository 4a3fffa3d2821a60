package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists saga instances in the saga_instances table
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a new PostgreSQL-based saga store
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const instanceColumns = `id, definition_id, status, data, step_results,
	current_step, error, created_at, updated_at, completed_at`

// Save persists a new saga instance
func (s *PostgresStore) Save(ctx context.Context, instance *Instance) error {
	stepResults, err := json.Marshal(instance.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO saga_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		instance.ID,
		instance.DefinitionID,
		string(instance.Status),
		nullJSON(instance.Data),
		stepResults,
		instance.CurrentStep,
		nullString(instance.Error),
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSagaAlreadyExists
		}
		return fmt.Errorf("failed to save saga instance: %w", err)
	}
	return nil
}

// Get retrieves a saga instance by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+instanceColumns+` FROM saga_instances WHERE id = $1`, id)
	instance, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSagaNotFound
	}
	return instance, err
}

// Update updates an existing saga instance
func (s *PostgresStore) Update(ctx context.Context, instance *Instance) error {
	stepResults, err := json.Marshal(instance.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE saga_instances
		SET status = $2,
			data = $3,
			step_results = $4,
			current_step = $5,
			error = $6,
			updated_at = $7,
			completed_at = $8
		WHERE id = $1`,
		instance.ID,
		string(instance.Status),
		nullJSON(instance.Data),
		stepResults,
		instance.CurrentStep,
		nullString(instance.Error),
		time.Now(),
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaNotFound
	}
	return nil
}

// GetByStatus retrieves saga instances by status, oldest first
func (s *PostgresStore) GetByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	return s.list(ctx, `WHERE status = $1`, limit, string(status))
}

// GetPendingCompensations returns sagas left failed or mid-compensation
func (s *PostgresStore) GetPendingCompensations(ctx context.Context, limit int) ([]*Instance, error) {
	return s.list(ctx, `WHERE status IN ($1, $2)`, limit, string(StatusFailed), string(StatusCompensating))
}

func (s *PostgresStore) list(ctx context.Context, where string, limit int, args ...any) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM saga_instances ` + where + ` ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saga instances: %w", err)
	}
	return instances, nil
}

func scanInstance(row pgx.Row) (*Instance, error) {
	var (
		instance    Instance
		status      string
		data        []byte
		stepResults []byte
		errorMsg    *string
	)
	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&status,
		&data,
		&stepResults,
		&instance.CurrentStep,
		&errorMsg,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan saga instance: %w", err)
	}

	instance.Status = Status(status)
	if errorMsg != nil {
		instance.Error = *errorMsg
	}
	if len(data) > 0 {
		instance.Data = json.RawMessage(data)
	}
	instance.StepResults = make([]*StepResult, 0)
	if len(stepResults) > 0 {
		if err := json.Unmarshal(stepResults, &instance.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}
	return &instance, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
