package routing

import (
	"context"
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

// Store persists routing rules in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds a routing-rule store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("routing: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("routing: exec required")
	}
	return &Store{db: exec}
}

const ruleColumns = `id, condition_type, condition_value, destination_type, destination_id, priority, active, created_at`

// ListActive returns active rules in evaluation order (priority descending,
// oldest first on ties).
func (s *Store) ListActive(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE active
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("routing: list rules failed: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan rule failed: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Create inserts a rule.
func (s *Store) Create(ctx context.Context, r *Rule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO routing_rules (id, condition_type, condition_value, destination_type, destination_id, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.ConditionType, r.ConditionValue, r.DestinationType, r.DestinationID, r.Priority, r.Active)
	if err != nil {
		return fmt.Errorf("routing: create rule failed: %w", err)
	}
	return nil
}

// SetActive toggles a rule without deleting its history.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	ct, err := s.db.Exec(ctx, `UPDATE routing_rules SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("routing: set active failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	if err := row.Scan(
		&r.ID, &r.ConditionType, &r.ConditionValue, &r.DestinationType,
		&r.DestinationID, &r.Priority, &r.Active, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
