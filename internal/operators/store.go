package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and mutates operator availability state in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds an operator store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("operators: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("operators: exec required")
	}
	return &Store{db: exec}
}

const operatorColumns = `
	o.id, o.name, o.email, o.phone, o.status, o.capacity,
	(SELECT COUNT(*) FROM conversations c WHERE c.assigned_operator_id = o.id AND c.closed_at IS NULL),
	o.work_start_min, o.work_end_min, o.last_assigned_at, o.updated_at
`

// Get loads an operator with its derived load and queue memberships.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Operator, error) {
	row := s.db.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators o WHERE o.id = $1`, id)
	op, err := scanOperator(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("operators: select failed: %w", err)
	}
	if err := s.loadQueues(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// SetStatus updates the live status of an operator.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("operators: unknown status %q", status)
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE operators
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("operators: set status failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

// CurrentLoad counts the operator's open assignments. Load is always derived,
// never stored, so it cannot drift.
func (s *Store) CurrentLoad(ctx context.Context, id uuid.UUID) (int, error) {
	var load int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM conversations
		WHERE assigned_operator_id = $1 AND closed_at IS NULL
	`, id).Scan(&load)
	if err != nil {
		return 0, fmt.Errorf("operators: load query failed: %w", err)
	}
	return load, nil
}

// Eligible returns online operators with free capacity, optionally restricted
// to members of a queue, ordered by ascending load then by longest idle.
// Working-hours filtering happens in the caller since shifts can wrap
// midnight.
func (s *Store) Eligible(ctx context.Context, queueID *uuid.UUID) ([]*Operator, error) {
	query := `
		SELECT ` + operatorColumns + `
		FROM operators o
		WHERE o.status = $1
		  AND o.capacity > (SELECT COUNT(*) FROM conversations c WHERE c.assigned_operator_id = o.id AND c.closed_at IS NULL)
	`
	args := []any{StatusOnline}
	if queueID != nil {
		query += ` AND EXISTS (SELECT 1 FROM operator_queues oq WHERE oq.operator_id = o.id AND oq.queue_id = $2)`
		args = append(args, *queueID)
	}
	query += ` ORDER BY 7 ASC, o.last_assigned_at ASC NULLS FIRST`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("operators: eligible query failed: %w", err)
	}
	defer rows.Close()

	var ops []*Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("operators: scan failed: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := s.loadQueues(ctx, op); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

// QueueIDsFor returns the queues an operator is a member of.
func (s *Store) QueueIDsFor(ctx context.Context, operatorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT queue_id FROM operator_queues WHERE operator_id = $1`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("operators: queue membership query failed: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("operators: scan queue id failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusCounts returns the number of operators per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM operators GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("operators: status counts failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("operators: scan status count failed: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) loadQueues(ctx context.Context, op *Operator) error {
	ids, err := s.QueueIDsFor(ctx, op.ID)
	if err != nil {
		return err
	}
	op.QueueIDs = ids
	return nil
}

func scanOperator(row pgx.Row) (*Operator, error) {
	var op Operator
	if err := row.Scan(
		&op.ID, &op.Name, &op.Email, &op.Phone, &op.Status, &op.Capacity,
		&op.Load, &op.WorkStartMin, &op.WorkEndMin, &op.LastAssignedAt, &op.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &op, nil
}
