package contacts

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

// Store persists contacts and customers in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds a contact store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("contacts: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("contacts: exec required")
	}
	return &Store{db: exec}
}

const contactColumns = `id, channel_origin, customer_id, owner_operator_id, created_at, updated_at`

// Ensure upserts the contact, creating it on first sight of the identity.
func (s *Store) Ensure(ctx context.Context, id, channelOrigin string) (*Contact, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO contacts (id, channel_origin)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()
		RETURNING `+contactColumns+`
	`, id, channelOrigin)
	c, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("contacts: ensure failed: %w", err)
	}
	return c, nil
}

// Get loads a contact.
func (s *Store) Get(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("contacts: select failed: %w", err)
	}
	return c, nil
}

const customerColumns = `id, name, tax_id, owner_operator_id, created_at`

// GetCustomer loads one customer record.
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	cust, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("contacts: customer select failed: %w", err)
	}
	return cust, nil
}

// LinkByTaxID links the contact to the customer carrying the identifier.
// Returns ErrCustomerNotFound when no customer matches.
func (s *Store) LinkByTaxID(ctx context.Context, contactID, taxID string) (*Customer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE tax_id = $1`, taxID)
	cust, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("contacts: customer lookup failed: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE contacts SET customer_id = $2, updated_at = now() WHERE id = $1
	`, contactID, cust.ID); err != nil {
		return nil, fmt.Errorf("contacts: link failed: %w", err)
	}
	return cust, nil
}

// SetCustomerOwner assigns or clears the customer's account owner.
func (s *Store) SetCustomerOwner(ctx context.Context, customerID uuid.UUID, operatorID *uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE customers SET owner_operator_id = $2 WHERE id = $1
	`, customerID, operatorID)
	if err != nil {
		return fmt.Errorf("contacts: set customer owner failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// SetOwner places the contact in an operator's wallet, or removes it with a
// nil operator id.
func (s *Store) SetOwner(ctx context.Context, contactID string, operatorID *uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE contacts SET owner_operator_id = $2, updated_at = now() WHERE id = $1
	`, contactID, operatorID)
	if err != nil {
		return fmt.Errorf("contacts: set owner failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

// CreateCustomer inserts a CRM customer record.
func (s *Store) CreateCustomer(ctx context.Context, name, taxID string) (*Customer, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO customers (id, name, tax_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, id, name, taxID)
	cust := Customer{ID: id, Name: name, TaxID: taxID}
	if err := row.Scan(&cust.CreatedAt); err != nil {
		return nil, fmt.Errorf("contacts: create customer failed: %w", err)
	}
	return &cust, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var cust Customer
	if err := row.Scan(&cust.ID, &cust.Name, &cust.TaxID, &cust.OwnerOperatorID, &cust.CreatedAt); err != nil {
		return nil, err
	}
	return &cust, nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.ChannelOrigin, &c.CustomerID, &c.OwnerOperatorID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
